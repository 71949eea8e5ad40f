package inmemory

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/callprof/domain/metrics"
)

func report(id string, calls ...uint64) *metrics.Report {
	r := &metrics.Report{ID: id, GeneratedAt: time.Now(), Threads: 1}
	for i, c := range calls {
		r.Rows = append(r.Rows, metrics.ReportRow{
			ThreadID:      1,
			Method:        fmt.Sprintf("m%d", i),
			Calls:         c,
			TotalDuration: time.Duration(c) * time.Millisecond,
		})
	}
	return r
}

func TestStore_RecordReport(t *testing.T) {
	store := NewStore(0)

	store.RecordReport(report("a", 2, 3), "callprof.csv", nil)
	store.RecordReport(report("b", 1), "", errors.New("disk full"))

	snapshot := store.GetSnapshot()
	assert.Equal(t, metrics.ReportTotals{Reports: 2, Failed: 1, Calls: 6}, snapshot.Totals)

	require.Len(t, snapshot.Recent, 2)
	assert.Equal(t, "a", snapshot.Recent[0].ID)
	assert.Equal(t, "callprof.csv", snapshot.Recent[0].Path)
	assert.Equal(t, 2, snapshot.Recent[0].Rows)
	assert.Equal(t, uint64(5), snapshot.Recent[0].Calls)
	assert.Equal(t, 5*time.Millisecond, snapshot.Recent[0].TotalDuration)
	assert.Equal(t, "disk full", snapshot.Recent[1].Error)

	require.NotNil(t, snapshot.Last)
	assert.Equal(t, "b", snapshot.Last.ID)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	store := NewStore(4)
	store.RecordReport(report("a", 1), "x", nil)

	snapshot := store.GetSnapshot()
	snapshot.Last.Rows[0].Calls = 99

	assert.Equal(t, uint64(1), store.GetSnapshot().Last.Rows[0].Calls)
}

func TestStore_HistoryIsBounded(t *testing.T) {
	store := NewStore(3)
	for i := 0; i < 5; i++ {
		store.RecordReport(report(fmt.Sprint(i), 1), "", nil)
	}

	snapshot := store.GetSnapshot()
	require.Len(t, snapshot.Recent, 3)
	assert.Equal(t, []string{"2", "3", "4"}, []string{snapshot.Recent[0].ID, snapshot.Recent[1].ID, snapshot.Recent[2].ID})
	assert.Equal(t, uint64(5), snapshot.Totals.Reports)
}

func TestStore_UpdateRuntime(t *testing.T) {
	store := NewStore(1)
	assert.Nil(t, store.GetSnapshot().Last)
	assert.Empty(t, store.GetSnapshot().Recent)

	store.UpdateRuntime()

	runtime := store.GetSnapshot().Runtime
	assert.Greater(t, runtime.NumGoroutine, 0)
	assert.Greater(t, runtime.MemoryAllocBytes, uint64(0))
}
