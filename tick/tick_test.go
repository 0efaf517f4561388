package tick

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockIncGet(t *testing.T) {
	c := New()
	require.EqualValues(t, 0, c.Get())

	c.Inc(10)
	require.EqualValues(t, 10, c.Get())

	c.Inc(5)
	require.EqualValues(t, 15, c.Get())
}

func TestClockElaps(t *testing.T) {
	c := New()
	start := c.Get()
	c.Inc(37)
	require.EqualValues(t, 37, c.Elaps(start))
}

func TestElapsWraparound(t *testing.T) {
	var max uint32 = 0xFFFFFFFF
	require.EqualValues(t, 10, Elaps(5, max-4))
}

func TestConcurrentIncGet(t *testing.T) {
	c := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			c.Inc(1)
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			require.EqualValues(t, 1000, c.Get())
			return
		default:
			c.Get() // must never panic or deadlock while Inc races it
		}
	}
}
