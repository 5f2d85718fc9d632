package results

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xupit3r/vecbench/internal/bench"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", WithInMemory(), WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func result(p bench.Policy, length int, started time.Time) *bench.Result {
	return &bench.Result{
		Policy:  p,
		Length:  length,
		Kernel:  "vectorAdd",
		Device:  "test device",
		Started: started,
		Samples: []bench.Sample{
			{Label: "compute (gpu)", Clock: bench.ClockDevice, Length: length, GPUStart: 1, GPUEnd: 1.5, ReadBytes: 8, WriteBytes: 4},
			{Label: "compute (wall)", Clock: bench.ClockWall, Length: length, Wall: time.Second, ReadBytes: 8, WriteBytes: 4},
		},
		Digest:   "abc123",
		Verified: true,
		Output:   []float32{1, 2, 3},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openMemory(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := s.Save(result(bench.PrivateDeviceLocal, 1024, started))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, bench.PrivateDeviceLocal, got.Policy)
	assert.Equal(t, 1024, got.Length)
	assert.True(t, started.Equal(got.Started))
	assert.Equal(t, "abc123", got.Digest)
	require.Len(t, got.Samples, 2)
	assert.Equal(t, bench.ClockWall, got.Samples[1].Clock)
	assert.Equal(t, time.Second, got.Samples[1].Wall)
}

func TestGetMissing(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get("0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := openMemory(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, p := range []bench.Policy{bench.SharedHostVisible, bench.PrivateDeviceLocal, bench.ManagedSynchronized} {
		_, err := s.Save(result(p, 100*(i+1), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	all, err := s.List(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, bench.ManagedSynchronized, all[0].Policy)
	assert.Equal(t, bench.SharedHostVisible, all[2].Policy)

	limited, err := s.List(Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	private := bench.PrivateDeviceLocal
	only, err := s.List(Filter{Policy: &private})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, 200, only[0].Length)

	byLength, err := s.List(Filter{Length: 300})
	require.NoError(t, err)
	require.Len(t, byLength, 1)
	assert.Equal(t, bench.ManagedSynchronized, byLength[0].Policy)
}

func TestSameInstantGetsDistinctIDs(t *testing.T) {
	s := openMemory(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a, err := s.Save(result(bench.SharedHostVisible, 4, at))
	require.NoError(t, err)
	b, err := s.Save(result(bench.SharedHostVisible, 4, at))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	all, err := s.List(Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDelete(t *testing.T) {
	s := openMemory(t)
	rec, err := s.Save(result(bench.SharedHostVisible, 4, time.Now()))
	require.NoError(t, err)

	require.NoError(t, s.Delete(rec.ID))
	_, err = s.Get(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(rec.ID), ErrNotFound)
}

func TestPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, WithLogger(quietLogger()))
	require.NoError(t, err)
	rec, err := s.Save(result(bench.ManagedSynchronized, 64, time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, bench.ManagedSynchronized, got.Policy)
}

func TestClosedStore(t *testing.T) {
	s, err := Open("", WithInMemory(), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Save(result(bench.SharedHostVisible, 4, time.Now()))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.List(Filter{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestYAMLExport(t *testing.T) {
	s := openMemory(t)
	_, err := s.Save(result(bench.PrivateDeviceLocal, 16, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	records, err := s.List(Filter{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, records))
	assert.Contains(t, buf.String(), "policy: private")
	assert.Contains(t, buf.String(), "clock: wall")

	back, err := ReadYAML(&buf)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, records[0].ID, back[0].ID)
	assert.Equal(t, bench.PrivateDeviceLocal, back[0].Policy)
	assert.Equal(t, records[0].Samples, back[0].Samples)
}
