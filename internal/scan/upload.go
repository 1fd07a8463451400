package scan

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUploadRejected means the upload failed the filename or size checks.
	ErrUploadRejected = errors.New("upload rejected")
	// ErrInvalidImage means the upload passed the checks but could not be decoded.
	ErrInvalidImage = errors.New("invalid image")
)

var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Upload is one image file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Ext returns the lowercased file extension of the upload, dot included.
func (u Upload) Ext() string {
	return strings.ToLower(filepath.Ext(u.Filename))
}

// MIMEType returns the stored content type: the client's when it looks like
// an image, otherwise the one implied by the extension.
func (u Upload) MIMEType() string {
	if strings.HasPrefix(u.ContentType, "image/") {
		return u.ContentType
	}
	return allowedExtensions[u.Ext()]
}

// ValidateUpload checks the filename, extension and size of an upload.
func ValidateUpload(u Upload, maxBytes int64) error {
	if strings.TrimSpace(u.Filename) == "" {
		return fmt.Errorf("%w: no file selected", ErrUploadRejected)
	}
	if _, ok := allowedExtensions[u.Ext()]; !ok {
		return fmt.Errorf("%w: file type %q not allowed, use jpg, jpeg, png, bmp, gif or webp", ErrUploadRejected, u.Ext())
	}
	if len(u.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrUploadRejected)
	}
	if maxBytes > 0 && int64(len(u.Data)) > maxBytes {
		return fmt.Errorf("%w: file too large, max %d MB", ErrUploadRejected, maxBytes>>20)
	}
	return nil
}

// DefaultMaxImagePixels is the decoded pixel limit used when none is configured.
const DefaultMaxImagePixels = 40_000_000

// DecodeImage decodes any supported image format. The header is checked
// first so an image declaring more than maxPixels pixels is never decoded.
func DecodeImage(data []byte, maxPixels int64) (image.Image, error) {
	if err := checkDecodable(data, maxPixels); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	return img, nil
}

// checkDecodable reads only the image header.
func checkDecodable(data []byte, maxPixels int64) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return fmt.Errorf("%w: image is %dx%d, max %.1f megapixels",
			ErrInvalidImage, cfg.Width, cfg.Height, float64(maxPixels)/1e6)
	}
	return nil
}
