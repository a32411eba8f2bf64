package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFixedByDefault(t *testing.T) {
	b := NewBackoff(5*time.Second, 0)
	for i := 0; i < 4; i++ {
		assert.Equal(t, 5*time.Second, b.Next())
	}
	assert.Equal(t, 4, b.Attempt())
}

func TestBackoffExponentialWithCap(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second)
	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next(), b.Next()}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffZeroInitialUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultReconnectDelay, NewBackoff(0, 0).Next())
}
