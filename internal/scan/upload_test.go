package scan

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUpload(t *testing.T) {
	data := []byte{1, 2, 3}

	for _, name := range []string{"a.jpg", "a.JPEG", "a.png", "a.bmp", "a.gif", "a.webp"} {
		assert.NoError(t, ValidateUpload(Upload{Filename: name, Data: data}, 0), name)
	}

	err := ValidateUpload(Upload{Filename: "a.heic", Data: data}, 0)
	require.ErrorIs(t, err, ErrUploadRejected)
	assert.Contains(t, err.Error(), `".heic" not allowed`)

	err = ValidateUpload(Upload{Filename: "a.jpg", Data: make([]byte, 11)}, 10)
	assert.ErrorIs(t, err, ErrUploadRejected)
	assert.NoError(t, ValidateUpload(Upload{Filename: "a.jpg", Data: make([]byte, 10)}, 10))
}

func TestUploadMIMEType(t *testing.T) {
	assert.Equal(t, "image/webp", Upload{Filename: "x.webp"}.MIMEType())
	assert.Equal(t, "image/jpeg", Upload{Filename: "x.JPG", ContentType: "application/octet-stream"}.MIMEType())
	assert.Equal(t, "image/png", Upload{Filename: "x.jpg", ContentType: "image/png"}.MIMEType())
}

func TestDecodeImage(t *testing.T) {
	img, err := DecodeImage(pngBytes(t, 3, 2), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	_, err = DecodeImage([]byte("not an image"), 0)
	assert.ErrorIs(t, err, ErrInvalidImage)

	assert.NoError(t, checkDecodable(pngBytes(t, 1, 1), 0))
	assert.ErrorIs(t, checkDecodable(nil, 0), ErrInvalidImage)
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h RGBA
// pixels with no image data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor with alpha

	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeImage_PixelLimit(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		maxPixels int64
		wantErr   bool
	}{
		{"under limit", pngBytes(t, 10, 10), 100, false},
		{"over limit", pngBytes(t, 11, 10), 100, true},
		{"no limit", pngBytes(t, 11, 10), 0, false},
		{"huge declared size", pngHeader(100_000, 100_000), DefaultMaxImagePixels, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeImage(tt.data, tt.maxPixels)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidImage)
			assert.Contains(t, err.Error(), "megapixels")
		})
	}

	err := checkDecodable(pngHeader(100_000, 100_000), DefaultMaxImagePixels)
	require.ErrorIs(t, err, ErrInvalidImage)
	assert.Contains(t, err.Error(), "100000x100000")
}
