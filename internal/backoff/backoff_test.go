package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFirstRetryIsMinWait(t *testing.T) {
	p := New()
	require.Equal(t, MinWait, p.Next())
}

func TestSchedulesSaturateAtMaxWait(t *testing.T) {
	p := New()
	var last time.Duration
	for i := 0; i < 40; i++ {
		d := p.Next()
		require.LessOrEqual(t, d, MaxWait)
		last = d
	}
	require.Equal(t, MaxWait, last)
}

func TestResetReturnsToMinWait(t *testing.T) {
	p := New()
	for i := 0; i < 20; i++ {
		p.Next()
	}
	p.Reset()
	require.Equal(t, MinWait, p.Next())
}
