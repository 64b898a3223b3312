package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitTimeWindow_OrderPreserved(t *testing.T) {
	w := NewWaitTimeWindow(5)
	for _, d := range []time.Duration{10, 20, 30} {
		w.Record(d * time.Millisecond)
	}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}, w.Samples())
}

func TestWaitTimeWindow_OldestEvicted(t *testing.T) {
	// GIVEN a window of capacity 3 filled past capacity
	w := NewWaitTimeWindow(3)
	for i := 1; i <= 5; i++ {
		w.Record(time.Duration(i) * time.Millisecond)
	}

	// THEN only the three most recent samples remain, oldest first
	assert.Equal(t, []time.Duration{3 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond}, w.Samples())
	assert.Equal(t, 3, w.Len())
}

func TestWaitTimeWindow_Mean(t *testing.T) {
	w := NewWaitTimeWindow(10)
	w.Record(100 * time.Millisecond)
	w.Record(300 * time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, w.Mean())
}

func TestWaitTimeWindow_EmptyMeanIsZero(t *testing.T) {
	w := NewWaitTimeWindow(4)
	assert.Equal(t, time.Duration(0), w.Mean())
	assert.Empty(t, w.Samples())
}

func TestWaitTimeWindow_MeanAfterWraparound(t *testing.T) {
	// GIVEN a full window that has wrapped
	w := NewWaitTimeWindow(2)
	w.Record(1 * time.Second)
	w.Record(2 * time.Second)
	w.Record(4 * time.Second) // evicts the 1s sample

	// THEN the mean covers only the retained samples
	assert.Equal(t, 3*time.Second, w.Mean())
}

func TestWaitTimeWindow_DrainEmptiesWindow(t *testing.T) {
	// GIVEN a window with samples
	w := NewWaitTimeWindow(3)
	w.Record(10 * time.Millisecond)
	w.Record(20 * time.Millisecond)

	// WHEN it is drained
	drained := w.Drain()

	// THEN the samples come out oldest first exactly once
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, drained)
	assert.Zero(t, w.Len())
	assert.Empty(t, w.Drain())

	// AND the window keeps working after the reset
	w.Record(30 * time.Millisecond)
	assert.Equal(t, []time.Duration{30 * time.Millisecond}, w.Samples())
}

func TestMeanDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), MeanDuration(nil))
	assert.Equal(t, 15*time.Millisecond, MeanDuration([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}))
}
