package worker

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x int) (int, error) { return x * x, nil }

func TestNew_DefaultWorkers(t *testing.T) {
	p := New(Options[int, int]{Processor: square, Quiet: true})
	defer p.Shutdown()
	assert.Equal(t, 5, p.Workers())
}

func TestPool_MapKeepsInputOrder(t *testing.T) {
	p := New(Options[int, int]{
		Workers: 4,
		Processor: func(x int) (int, error) {
			// Later jobs finish first.
			time.Sleep(time.Duration(20-x) * time.Millisecond)
			return x * 10, nil
		},
		Quiet: true,
	})
	defer p.Shutdown()

	in := make([]int, 20)
	for i := range in {
		in[i] = i
	}
	out := p.Map(in)
	require.Len(t, out, len(in))
	for i, r := range out {
		assert.Equal(t, i, r.ID)
		assert.NoError(t, r.Err)
		assert.Equal(t, i*10, r.Value)
	}

	// The pool is reusable after Map.
	again := p.Map([]int{7})
	assert.Equal(t, 70, again[0].Value)
}

func TestPool_FailuresStayWithTheirJob(t *testing.T) {
	boom := errors.New("boom")
	p := New(Options[int, int]{
		Workers: 3,
		Processor: func(x int) (int, error) {
			switch x {
			case 1:
				return 0, boom
			case 2:
				panic("bad input")
			}
			return x, nil
		},
		Quiet: true,
	})
	defer p.Shutdown()

	out := p.Map([]int{0, 1, 2, 3})
	assert.NoError(t, out[0].Err)
	assert.ErrorIs(t, out[1].Err, boom)
	require.Error(t, out[2].Err)
	assert.Contains(t, out[2].Err.Error(), "panicked")
	assert.NoError(t, out[3].Err)
	assert.Equal(t, 3, out[3].Value)
}

func TestPool_SubmitAndWait(t *testing.T) {
	var calls atomic.Int32
	p := New(Options[string, int]{
		Workers: 2,
		Processor: func(s string) (int, error) {
			calls.Add(1)
			return len(s), nil
		},
		Quiet: true,
	})
	defer p.Shutdown()

	_, ok := p.GetResult()
	assert.False(t, ok)

	p.SubmitJob(Job[string]{ID: 42, Payload: "kontrol"})
	r := p.WaitResult()
	assert.Equal(t, 42, r.ID)
	assert.Equal(t, 7, r.Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPool_ShutdownIsIdempotent(t *testing.T) {
	p := New(Options[int, int]{Workers: 2, Processor: square, Quiet: true})
	p.Shutdown()
	assert.NotPanics(t, p.Shutdown)
}
