package livox

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(i int) PointSample {
	return PointSample{X: float32(i), Timestamp: uint64(i)}
}

func pushRange(b *SampleBuffer, from, to int) {
	for i := from; i < to; i++ {
		b.Push(sampleAt(i))
	}
}

func drainAll(b *SampleBuffer) []PointSample {
	out := make([]PointSample, b.Len())
	n := b.Drain(out)
	return out[:n]
}

func TestSampleBuffer_FIFO(t *testing.T) {
	b := NewSampleBuffer(10)
	pushRange(b, 0, 5)

	dst := make([]PointSample, 3)
	require.Equal(t, 3, b.Drain(dst))
	assert.Equal(t, []PointSample{sampleAt(0), sampleAt(1), sampleAt(2)}, dst)
	assert.Equal(t, 2, b.Len())

	rest := drainAll(b)
	assert.Equal(t, []PointSample{sampleAt(3), sampleAt(4)}, rest)
	assert.Equal(t, 0, b.Len())
}

func TestSampleBuffer_DropOldest(t *testing.T) {
	b := NewSampleBuffer(3)
	pushRange(b, 0, 5)

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.Evicted())
	assert.Equal(t, []PointSample{sampleAt(2), sampleAt(3), sampleAt(4)}, drainAll(b))
}

func TestSampleBuffer_BatchLargerThanLimit(t *testing.T) {
	b := NewSampleBuffer(4)
	pushRange(b, 0, 2)

	batch := make([]PointSample, 10)
	for i := range batch {
		batch[i] = sampleAt(100 + i)
	}
	b.Push(batch...)

	assert.Equal(t, 4, b.Len())
	assert.Equal(t, uint64(8), b.Evicted())
	assert.Equal(t, batch[6:], drainAll(b))
}

func TestSampleBuffer_WrapAround(t *testing.T) {
	b := NewSampleBuffer(4)
	for round := 0; round < 5; round++ {
		pushRange(b, round*3, round*3+3)
		dst := make([]PointSample, 2)
		b.Drain(dst)
	}
	// The limit evicts one sample in each of the last three rounds.
	assert.Equal(t, uint64(3), b.Evicted())
	assert.Equal(t, []PointSample{sampleAt(13), sampleAt(14)}, drainAll(b))
}

func TestSampleBuffer_SetLimitEvictsImmediately(t *testing.T) {
	b := NewSampleBuffer(100)
	pushRange(b, 0, 50)

	b.SetLimit(10)
	assert.Equal(t, 10, b.Limit())
	assert.Equal(t, 10, b.Len())
	assert.Equal(t, uint64(40), b.Evicted())

	got := drainAll(b)
	assert.Equal(t, sampleAt(40), got[0])
	assert.Equal(t, sampleAt(49), got[9])
}

func TestSampleBuffer_SetLimitGrowKeepsContents(t *testing.T) {
	b := NewSampleBuffer(3)
	pushRange(b, 0, 3)
	b.SetLimit(6)
	pushRange(b, 3, 6)

	assert.Equal(t, 6, b.Len())
	assert.Equal(t, uint64(0), b.Evicted())
	assert.Equal(t, sampleAt(0), drainAll(b)[0])
}

func TestSampleBuffer_ZeroLimitCoercedToOne(t *testing.T) {
	b := NewSampleBuffer(0)
	assert.Equal(t, 1, b.Limit())

	b.SetLimit(-5)
	assert.Equal(t, 1, b.Limit())

	pushRange(b, 0, 3)
	assert.Equal(t, []PointSample{sampleAt(2)}, drainAll(b))
}

func TestSampleBuffer_ClearKeepsLimitAndEvicted(t *testing.T) {
	b := NewSampleBuffer(2)
	pushRange(b, 0, 4)
	b.Clear()

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 2, b.Limit())
	assert.Equal(t, uint64(2), b.Evicted())

	b.ResetEvicted()
	assert.Equal(t, uint64(0), b.Evicted())
}

func TestSampleBuffer_DrainEmpty(t *testing.T) {
	b := NewSampleBuffer(8)
	assert.Equal(t, 0, b.Drain(make([]PointSample, 4)))
	assert.Equal(t, 0, b.Drain(nil))
}

func TestSampleBuffer_ConcurrentPushDrain(t *testing.T) {
	const producers = 4
	const perProducer = 5000
	b := NewSampleBuffer(1 << 20)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Push(sampleAt(p*perProducer + i))
			}
		}(p)
	}

	drained := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	dst := make([]PointSample, 256)
	for {
		drained += b.Drain(dst)
		select {
		case <-done:
			drained += b.Drain(make([]PointSample, producers*perProducer))
			assert.Equal(t, producers*perProducer, drained)
			return
		default:
		}
	}
}
