package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	b := New(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow())
	b.Record(false)
	assert.Equal(t, Closed, b.State())
	b.Record(false)
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())

	b.Record(true)
	assert.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 3, Timeout: time.Second})
	b.now = func() time.Time { return now }

	b.Record(false)
	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
	b.Record(false)
	assert.Equal(t, Open, b.State())
}
