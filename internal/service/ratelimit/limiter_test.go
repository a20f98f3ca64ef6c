package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowPerMinute(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New().WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowPerMinute("groq", 3))
	}
	assert.False(t, l.AllowPerMinute("groq", 3))
	assert.True(t, l.AllowPerMinute("ollama", 3), "keys are independent")

	now = now.Add(20 * time.Second)
	assert.True(t, l.AllowPerMinute("groq", 3))
	assert.False(t, l.AllowPerMinute("groq", 3))
}
