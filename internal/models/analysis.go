package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ClassCount is one entry of a class breakdown.
type ClassCount struct {
	Class string
	Count int
}

// ClassBreakdown counts detections per class name. It keeps first-seen order
// and marshals as a JSON object in that order.
type ClassBreakdown []ClassCount

// Get returns the count for class, zero when absent.
func (b ClassBreakdown) Get(class string) int {
	for _, c := range b {
		if c.Class == class {
			return c.Count
		}
	}
	return 0
}

func (b ClassBreakdown) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Class)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", c.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (b *ClassBreakdown) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("class breakdown: expected object, got %v", tok)
	}

	out := ClassBreakdown{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("class breakdown: expected key, got %v", tok)
		}
		var n int
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("class breakdown %q: %w", key, err)
		}
		out = append(out, ClassCount{Class: key, Count: n})
	}
	*b = out
	return nil
}

// AnalysisSummary is the scan verdict returned to the mobile client. Field
// names are a wire contract.
type AnalysisSummary struct {
	Found             bool           `json:"found"`
	TotalCount        int            `json:"total_count"`
	ClassBreakdown    ClassBreakdown `json:"class_breakdown"`
	AverageConfidence float64        `json:"average_confidence"`
	PrimaryClass      *string        `json:"primary_class"`
	PrimaryConfidence float64        `json:"primary_confidence"`
	QualityScore      float64        `json:"quality_score"`
	Recommendation    string         `json:"recommendation"`
	Advisory          string         `json:"advisory,omitempty"`
}
