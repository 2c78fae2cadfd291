package fallback

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"shortforge/internal/domain"
)

func TestClassifyRecognizesOnlySpecificMarkers(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		message    string
		recognized bool
	}{
		{"gateway", 502, "upstream returned garbage", true},
		{"qwen moderation", 400, "DataInspectionFailed: Input data may contain inappropriate content.", true},
		{"openai policy", 400, "Your request was rejected as a result of our safety system: content_policy_violation", true},
		{"gemini block", 400, "candidate blocked: PROHIBITED_CONTENT", true},
		{"azure filter", 400, "The response was filtered due to the prompt triggering content_filter", true},
		{"timeout", 0, "context deadline exceeded", true},
		{"mentions content", 400, "invalid content-type header", false},
		{"mentions safety", 400, "unknown field safety_settings", false},
		{"mentions inappropriate", 400, "inappropriate value for parameter size", false},
		{"new format", 400, "InvalidParameter: url error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.status, tt.message)
			assert.Equal(t, domain.KindTransient, got.Kind)
			assert.Equal(t, tt.recognized, got.Recognized)
		})
	}
}
