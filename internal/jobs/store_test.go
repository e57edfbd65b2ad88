package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGet(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Record{
		BatchID:       "batch-1",
		CorrelationID: "corr-1",
		Standard:      StandardPrimary,
		Status:        StatusPending,
	}))

	rec, err := s.Get("batch-1")
	require.NoError(t, err)
	assert.Equal(t, "corr-1", rec.CorrelationID)
	assert.Equal(t, StatusPending, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestStoreGetUnknown(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStoreUpdate(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(Record{BatchID: "batch-1", Status: StatusPending}))

	require.NoError(t, s.Update("batch-1", func(rec *Record) {
		rec.Status = StatusRetrieving
		rec.CellCount = 7
	}))

	rec, err := s.Get("batch-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRetrieving, rec.Status)
	assert.Equal(t, 7, rec.CellCount)
}

func TestStoreUpdateUnknown(t *testing.T) {
	s := openTestStore(t)
	err := s.Update("nope", func(rec *Record) {})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStoreSetStatus(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(Record{BatchID: "batch-1", Status: StatusPending}))

	require.NoError(t, s.SetStatus("batch-1", StatusSucceeded))

	rec, err := s.Get("batch-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
}

func TestStoreClaim(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Claim(Record{BatchID: "batch-1", Status: StatusPending}))

	// A second claim for the same batch must lose while the first is live.
	err := s.Claim(Record{BatchID: "batch-1", Status: StatusPending})
	assert.ErrorIs(t, err, ErrJobActive)

	// A terminal job frees the batch id for re-fulfilment.
	require.NoError(t, s.SetStatus("batch-1", StatusFailed))
	assert.NoError(t, s.Claim(Record{BatchID: "batch-1", Status: StatusPending}))
}

func TestStoreClaimConcurrent(t *testing.T) {
	s := openTestStore(t)

	const attempts = 16
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			errs <- s.Claim(Record{BatchID: "contended", Status: StatusPending})
		}()
	}

	won := 0
	for i := 0; i < attempts; i++ {
		if err := <-errs; err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrJobActive)
		}
	}
	assert.Equal(t, 1, won)
}

func TestStoreIsActive(t *testing.T) {
	s := openTestStore(t)

	assert.False(t, s.IsActive("unknown"))

	require.NoError(t, s.Put(Record{BatchID: "running", Status: StatusRetrieving}))
	assert.True(t, s.IsActive("running"))

	require.NoError(t, s.Put(Record{BatchID: "done", Status: StatusSucceeded}))
	assert.False(t, s.IsActive("done"))

	require.NoError(t, s.Put(Record{BatchID: "dead", Status: StatusFailed}))
	assert.False(t, s.IsActive("dead"))
}

func TestStorePublishEventsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordPublishEvent("GB000001"))
	require.NoError(t, s.RecordPublishEvent("GB000002"))
	require.NoError(t, s.RecordPublishEvent("GB000003"))

	events, err := s.ListPublishEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "GB000003", events[0].ProductName)
	assert.Equal(t, "GB000001", events[2].ProductName)

	limited, err := s.ListPublishEvents(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
