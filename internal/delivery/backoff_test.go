package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 5 * time.Second},
		{3, 15 * time.Second},
		{4, 15 * time.Second},  // clamped at the table tail
		{10, 15 * time.Second}, // clamped at the table tail
		{0, 1 * time.Second},   // nonsense input clamps to the head
		{-3, 1 * time.Second},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Backoff(c.attempt), "attempt %d", c.attempt)
	}
}

func TestBackoffIsNonDecreasing(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}
