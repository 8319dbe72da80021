package extsort

import (
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/extsortmt/extsortmt/record"
)

func writeU64File(t *testing.T, path string, vals []uint64) {
	t.Helper()
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.NativeEndian.PutUint64(buf[i*8:], v)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func readU64File(t *testing.T, path string) []uint64 {
	t.Helper()
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Zero(t, len(buf)%8, "output size must be a multiple of the record width")
	vals := make([]uint64, len(buf)/8)
	for i := range vals {
		vals[i] = binary.NativeEndian.Uint64(buf[i*8:])
	}
	return vals
}

// requireOnlyOutput asserts that the work folder holds the output file and
// nothing else: no runs, no worker stashes.
func requireOnlyOutput(t *testing.T, dir, output string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{filepath.Base(output)}, names)
}

func sortedCopy(vals []uint64) []uint64 {
	out := slices.Clone(vals)
	slices.Sort(out)
	return out
}

func TestSortSmall(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	in := filepath.Join(inDir, "in")
	out := filepath.Join(outDir, "out")
	writeU64File(t, in, []uint64{5, 1, 4, 2, 3})

	cfg := Config{
		InputPath:   in,
		OutputPath:  out,
		AvailMem:    1_000_000,
		MergeAtOnce: 5,
		Workers:     2,
	}
	require.NoError(t, Sort(cfg, record.U64{}))

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, readU64File(t, out))
	requireOnlyOutput(t, outDir, out)
}

func TestSortEmptyInput(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	in := filepath.Join(inDir, "in")
	out := filepath.Join(outDir, "out")
	writeU64File(t, in, nil)

	cfg := Config{
		InputPath:   in,
		OutputPath:  out,
		AvailMem:    1_000_000,
		MergeAtOnce: 5,
		Workers:     2,
	}
	require.NoError(t, Sort(cfg, record.U64{}))

	stat, err := os.Stat(out)
	require.NoError(t, err)
	assert.Zero(t, stat.Size())
	requireOnlyOutput(t, outDir, out)
}

func TestSortSingleRecord(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	in := filepath.Join(inDir, "in")
	out := filepath.Join(outDir, "out")
	writeU64File(t, in, []uint64{77})

	cfg := Config{
		InputPath:   in,
		OutputPath:  out,
		AvailMem:    1_000_000,
		MergeAtOnce: 2,
		Workers:     1,
	}
	require.NoError(t, Sort(cfg, record.U64{}))

	assert.Equal(t, []uint64{77}, readU64File(t, out))
	requireOnlyOutput(t, outDir, out)
}

func TestSortCorruptInput(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	in := filepath.Join(inDir, "in")
	out := filepath.Join(outDir, "out")
	require.NoError(t, os.WriteFile(in, make([]byte, 4), 0o644))

	cfg := Config{
		InputPath:   in,
		OutputPath:  out,
		AvailMem:    1_000_000,
		MergeAtOnce: 5,
		Workers:     2,
	}
	err := Sort(cfg, record.U64{})
	assert.ErrorIs(t, err, ErrCorruptSize)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "output must not be created on a corrupt input")
}

func TestSortInvalidArguments(t *testing.T) {
	valid := Config{
		InputPath:   "in",
		OutputPath:  "out",
		AvailMem:    1000,
		MergeAtOnce: 5,
		Workers:     2,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty input path", func(c *Config) { c.InputPath = "" }},
		{"empty output path", func(c *Config) { c.OutputPath = "" }},
		{"merge fan-in of one", func(c *Config) { c.MergeAtOnce = 1 }},
		{"memory below three records", func(c *Config) { c.AvailMem = 3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.ErrorIs(t, Sort(cfg, record.U64{}), ErrInvalidArgument)
		})
	}
}

func TestSortInsufficientMemory(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	in := filepath.Join(inDir, "in")
	writeU64File(t, in, []uint64{9, 8, 7, 6, 5, 4, 3})

	t.Run("split chunk below one record", func(t *testing.T) {
		cfg := Config{
			InputPath:   in,
			OutputPath:  filepath.Join(outDir, "out1"),
			AvailMem:    24, // enough to pass validation, too little for 4 workers
			MergeAtOnce: 2,
			Workers:     4,
		}
		assert.ErrorIs(t, Sort(cfg, record.U64{}), ErrInsufficientMemory)
	})

	t.Run("merge buffer below one record", func(t *testing.T) {
		cfg := Config{
			InputPath:   in,
			OutputPath:  filepath.Join(outDir, "out2"),
			AvailMem:    24, // chunk of 3 records splits fine, 24/4 bytes per merge buffer does not
			MergeAtOnce: 4,
			Workers:     1,
		}
		assert.ErrorIs(t, Sort(cfg, record.U64{}), ErrInsufficientMemory)
	})
}

func TestSortManyRunsManyRounds(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	in := filepath.Join(inDir, "in")
	out := filepath.Join(outDir, "out")

	rng := rand.New(rand.NewSource(42))
	vals := make([]uint64, 50_000)
	for i := range vals {
		vals[i] = uint64(rng.Int63n(int64(len(vals)))) + 1
	}
	writeU64File(t, in, vals)

	// A tight budget forces ~200 initial runs and several merge rounds.
	cfg := Config{
		InputPath:   in,
		OutputPath:  out,
		AvailMem:    8000,
		MergeAtOnce: 3,
		Workers:     4,
		Logger:      zaptest.NewLogger(t),
	}
	require.NoError(t, Sort(cfg, record.U64{}))

	assert.Equal(t, sortedCopy(vals), readU64File(t, out))
	requireOnlyOutput(t, outDir, out)
}

func TestSortCompressedRuns(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	in := filepath.Join(inDir, "in")
	out := filepath.Join(outDir, "out")

	rng := rand.New(rand.NewSource(7))
	vals := make([]uint64, 20_000)
	for i := range vals {
		vals[i] = uint64(rng.Int63n(1 << 40))
	}
	writeU64File(t, in, vals)

	cfg := Config{
		InputPath:    in,
		OutputPath:   out,
		AvailMem:     16_000,
		MergeAtOnce:  4,
		Workers:      3,
		CompressRuns: true,
	}
	require.NoError(t, Sort(cfg, record.U64{}))

	assert.Equal(t, sortedCopy(vals), readU64File(t, out))
	requireOnlyOutput(t, outDir, out)
}

func TestSortAlreadySortedIsStable(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	in := filepath.Join(inDir, "in")
	out := filepath.Join(outDir, "out")

	vals := make([]uint64, 10_000)
	for i := range vals {
		vals[i] = uint64(i / 3) // sorted, with duplicates
	}
	writeU64File(t, in, vals)

	cfg := Config{
		InputPath:   in,
		OutputPath:  out,
		AvailMem:    4000,
		MergeAtOnce: 2,
		Workers:     2,
	}
	require.NoError(t, Sort(cfg, record.U64{}))
	assert.Equal(t, vals, readU64File(t, out))

	// Sorting the output again must reproduce it exactly.
	again := filepath.Join(outDir, "again")
	cfg.InputPath = out
	cfg.OutputPath = again
	require.NoError(t, Sort(cfg, record.U64{}))
	assert.Equal(t, vals, readU64File(t, again))
}

func TestSortDefaultWorkerCount(t *testing.T) {
	inDir, outDir := t.TempDir(), t.TempDir()
	in := filepath.Join(inDir, "in")
	out := filepath.Join(outDir, "out")
	writeU64File(t, in, []uint64{3, 2, 1})

	cfg := Config{
		InputPath:   in,
		OutputPath:  out,
		AvailMem:    1_000_000,
		MergeAtOnce: 2,
		// Workers left zero: the pipeline must pick a sane default.
	}
	require.NoError(t, Sort(cfg, record.U64{}))
	assert.Equal(t, []uint64{1, 2, 3}, readU64File(t, out))
}
