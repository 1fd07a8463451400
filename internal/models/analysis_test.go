package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassBreakdown_MarshalKeepsOrder(t *testing.T) {
	b := ClassBreakdown{{Class: "zebra", Count: 2}, {Class: "apple", Count: 1}}

	data, err := json.Marshal(b)

	require.NoError(t, err)
	assert.Equal(t, `{"zebra":2,"apple":1}`, string(data))
}

func TestClassBreakdown_EmptyIsObject(t *testing.T) {
	for _, b := range []ClassBreakdown{nil, {}} {
		data, err := json.Marshal(AnalysisSummary{ClassBreakdown: b})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"class_breakdown":{}`)
	}
}

func TestClassBreakdown_RoundTrip(t *testing.T) {
	var b ClassBreakdown
	require.NoError(t, json.Unmarshal([]byte(`{"durian": 3, "husk": 1}`), &b))

	assert.Equal(t, ClassBreakdown{{Class: "durian", Count: 3}, {Class: "husk", Count: 1}}, b)
	assert.Equal(t, 3, b.Get("durian"))
	assert.Zero(t, b.Get("mango"))
}

func TestClassBreakdown_UnmarshalRejectsArray(t *testing.T) {
	var b ClassBreakdown
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &b))
}

func TestAnalysisSummary_PrimaryClassNull(t *testing.T) {
	data, err := json.Marshal(AnalysisSummary{})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"primary_class":null`)
	assert.NotContains(t, string(data), "advisory")
}

func TestDetectionSet_PrimaryIsCopy(t *testing.T) {
	set := DetectionSet{{ClassName: "durian", Confidence: 0.9}}

	p := set.Primary()
	p.Confidence = 0.1

	assert.Equal(t, 0.9, set[0].Confidence)
	assert.Nil(t, DetectionSet{}.Primary())
}

func TestScanRecord_ObjectKeys(t *testing.T) {
	assert.Empty(t, (&ScanRecord{}).ObjectKeys())
	assert.Equal(t, []string{"a.jpg"}, (&ScanRecord{ImageKey: "a.jpg"}).ObjectKeys())
}
