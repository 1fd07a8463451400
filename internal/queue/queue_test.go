package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjects(t *testing.T) {
	tests := []struct {
		userID string
		want   string
	}{
		{"u-42", "scans.u-42"},
		{"alice.smith", "scans.alice_smith"},
		{"a*b>c", "scans.a_b_c"},
		{"with space", "scans.with_space"},
		{"  ", "scans.anonymous"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TaskSubject(tt.userID))
	}
	assert.Equal(t, "events.u-42", EventSubject("u-42"))
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad image")

	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(base))

	wrapped := fmt.Errorf("process scan: %w", Permanent(base))
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "process scan: bad image", wrapped.Error())
}
