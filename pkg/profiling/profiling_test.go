package profiling

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sink [][]byte

func TestProfileFunc(t *testing.T) {
	m := ProfileFunc("alloc", func() {
		for i := 0; i < 16; i++ {
			sink = append(sink, make([]byte, 1<<16))
		}
		time.Sleep(5 * time.Millisecond)
	})
	sink = nil

	assert.Equal(t, "alloc", m.Name)
	assert.GreaterOrEqual(t, m.Duration, 5*time.Millisecond)
	assert.GreaterOrEqual(t, m.MemoryAllocated, int64(16<<16))
	assert.Positive(t, m.Goroutines)
	assert.NotPanics(t, m.Log)
}

func TestStartCPUProfile(t *testing.T) {
	fs := afero.NewMemMapFs()
	stop, err := StartCPUProfile(fs, "cpu.pprof")
	require.NoError(t, err)
	require.NoError(t, stop())

	info, err := fs.Stat("cpu.pprof")
	require.NoError(t, err)
	assert.Positive(t, info.Size(), "profile header is written on stop")
}
