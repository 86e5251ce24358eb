package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/arxivist/fetchsession/internal/fetch"
	"github.com/arxivist/fetchsession/internal/history"
)

func TestInsertWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock, "fetch_sessions")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	rec := history.Record{
		ID:         uuid.MustParse("018faf3c-0000-7000-8000-000000000001"),
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Minute),
		Outcome:    history.OutcomeCompleted,
		Options:    "by_category cs.AI max=10 relevance>=50",
		Counters: fetch.Counters{
			Found:      10,
			Analyzed:   8,
			Saved:      5,
			Filtered:   3,
			Duplicates: 2,
			CacheHits:  1,
		},
	}

	mock.ExpectExec("INSERT INTO fetch_sessions").
		WithArgs(
			rec.ID,
			rec.StartedAt,
			rec.FinishedAt,
			"completed",
			"by_category cs.AI max=10 relevance>=50",
			10, 8, 5, 3, 2, 1,
			"", "",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithPool(mock, "fetch_sessions")
	require.NoError(t, err)

	id := uuid.MustParse("018faf3c-0000-7000-8000-000000000002")
	started := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "started_at", "finished_at", "outcome", "options_summary",
		"papers_found", "papers_analyzed", "papers_saved",
		"papers_filtered", "papers_duplicate", "cache_hits",
		"error_kind", "error_message",
	}).AddRow(
		id, started, started.Add(time.Minute), "error", "by_category cs.AI max=10 relevance>=50",
		4, 1, 0, 1, 0, 0,
		"network", "fetch listing: connection refused",
	)

	mock.ExpectQuery("SELECT id, started_at, finished_at, outcome").
		WithArgs(20).
		WillReturnRows(rows)

	records, err := repo.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, id, records[0].ID)
	require.Equal(t, history.OutcomeError, records[0].Outcome)
	require.Equal(t, 4, records[0].Counters.Found)
	require.Equal(t, "network", records[0].ErrorKind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "fetch_sessions; DROP TABLE x")
	require.Error(t, err)
}
