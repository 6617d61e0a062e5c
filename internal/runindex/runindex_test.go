package runindex

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/specloom/pkg/domain"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertAndGet(t *testing.T) {
	idx := openTestIndex(t)
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := RunRecord{
		ID: "2025022514320000-0", Chain: "2025022514320000", Seq: 0,
		Routine: "develop", Status: domain.RunRunning, Attempts: 1, StartedAt: started,
	}
	require.NoError(t, idx.Upsert(rec))

	got, err := idx.Get(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Chain, got.Chain)
	assert.Equal(t, domain.RunRunning, got.Status)
	assert.Nil(t, got.EndedAt)
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	idx := openTestIndex(t)
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ended := started.Add(time.Minute)

	rec := RunRecord{ID: "c-0", Chain: "c", Seq: 0, Routine: "develop", Status: domain.RunRunning, Attempts: 1, StartedAt: started}
	require.NoError(t, idx.Upsert(rec))

	rec.Status = domain.RunDone
	rec.Attempts = 2
	rec.EndedAt = &ended
	require.NoError(t, idx.Upsert(rec))

	got, err := idx.Get("c-0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.RunDone, got.Status)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.EndedAt)
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	idx := openTestIndex(t)
	got, err := idx.Get("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListByChainOrdersBySeq(t *testing.T) {
	idx := openTestIndex(t)
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, seq := range []uint32{2, 0, 1} {
		rec := RunRecord{
			ID: "c-" + strconv.FormatUint(uint64(seq), 10), Chain: "c", Seq: seq, Routine: "develop",
			Status: domain.RunDone, Attempts: 1, StartedAt: started,
		}
		require.NoError(t, idx.Upsert(rec))
	}

	records, err := idx.ListByChain("c")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, uint32(0), records[0].Seq)
	assert.Equal(t, uint32(1), records[1].Seq)
	assert.Equal(t, uint32(2), records[2].Seq)
}

func TestRecentOrdersByStartedAtDescending(t *testing.T) {
	idx := openTestIndex(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"old", "mid", "new"} {
		rec := RunRecord{
			ID: name, Chain: "c", Seq: uint32(i), Routine: "develop",
			Status: domain.RunDone, Attempts: 1, StartedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, idx.Upsert(rec))
	}

	recent, err := idx.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new", recent[0].ID)
	assert.Equal(t, "mid", recent[1].ID)
}
