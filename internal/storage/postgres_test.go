package storage

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

func newMockStore(t *testing.T, cfg Config) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPostgresStoreWithConn(conn, cfg, log), mock
}

func eventRows() *sqlmock.Rows {
	return sqlmock.NewRows(strings.Split(eventColumns, ", "))
}

func TestPostgresSaveEvent(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	ts := time.Now()
	ev := &event.Event{
		ID:            "ev-1",
		Type:          event.MatchCreated,
		Timestamp:     ts,
		Priority:      event.PriorityHigh,
		Source:        "matching-service",
		UserID:        "u-1",
		CorrelationID: "corr-1",
		Version:       1,
		Payload:       event.MatchPayload{MatchID: "m-1", Score: 0.92},
	}

	mock.ExpectExec("INSERT INTO events").
		WithArgs("ev-1", "match.created", ts, "u-1", nil, "high", "corr-1",
			"matching-service", 1, "", `{"match_id":"m-1","score":0.92}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.SaveEvent(context.Background(), ev))

	// Duplicate id hits the conflict clause, affects zero rows, no error.
	mock.ExpectExec("INSERT INTO events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.SaveEvent(context.Background(), ev))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveEventRejectsInvalid(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	err := store.SaveEvent(context.Background(), &event.Event{ID: "ev-1"})
	assert.ErrorIs(t, err, event.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveBatch(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	ts := time.Now()
	batch := []*event.Event{
		{ID: "ev-1", Type: event.MatchCreated, Timestamp: ts, Priority: event.PriorityNormal, Source: "s", Version: 1},
		{ID: "ev-bad"}, // skipped, never reaches the statement
		{ID: "ev-2", Type: event.JobPosted, Timestamp: ts, Priority: event.PriorityNormal, Source: "s", Version: 1},
	}

	mock.ExpectBegin()
	stmt := mock.ExpectPrepare("INSERT INTO events")
	stmt.ExpectExec().WithArgs("ev-1", "match.created", ts, nil, nil, "normal", nil, "s", 1, "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	stmt.ExpectExec().WithArgs("ev-2", "job.posted", ts, nil, nil, "normal", nil, "s", 1, "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveBatch(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveBatchRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	batch := []*event.Event{
		{ID: "ev-1", Type: event.MatchCreated, Timestamp: time.Now(), Priority: event.PriorityNormal, Source: "s", Version: 1},
	}

	mock.ExpectBegin()
	stmt := mock.ExpectPrepare("INSERT INTO events")
	stmt.ExpectExec().WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := store.SaveBatch(context.Background(), batch)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetEventByID(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	ts := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM events WHERE id =").
		WithArgs("ev-1").
		WillReturnRows(eventRows().AddRow(
			"ev-1", "match.created", ts, "u-1", nil, "high", "corr-1",
			"matching-service", 1, `{"k":"v"}`, `{"match_id":"m-1","score":0.92}`,
		))

	ev, err := store.GetEventByID(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, event.MatchCreated, ev.Type)
	assert.Equal(t, event.PriorityHigh, ev.Priority)
	assert.Equal(t, "v", ev.Metadata["k"])
	payload, ok := ev.Payload.(*event.MatchPayload)
	require.True(t, ok)
	assert.Equal(t, "m-1", payload.MatchID)
	assert.InDelta(t, 0.92, payload.Score, 1e-9)

	mock.ExpectQuery("SELECT (.+) FROM events WHERE id =").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err = store.GetEventByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetEventsFilterAndPaging(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	ts := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM events WHERE user_id = (.+) ORDER BY timestamp DESC").
		WithArgs("u-1", 10, 5).
		WillReturnRows(eventRows().
			AddRow("ev-2", "job.posted", ts, "u-1", nil, "normal", nil, "s", 1, nil, nil).
			AddRow("ev-1", "match.created", ts.Add(-time.Hour), "u-1", nil, "normal", nil, "s", 1, nil, nil))

	events, err := store.GetEventsByUser(context.Background(), "u-1", 10, 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-2", events[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetEventsCustomPredicate(t *testing.T) {
	store, mock := newMockStore(t, Config{})
	ts := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM events ORDER BY timestamp DESC").
		WithArgs(100, 0).
		WillReturnRows(eventRows().
			AddRow("ev-1", "match.created", ts, "u-1", nil, "normal", nil, "s", 1, nil, nil).
			AddRow("ev-2", "match.created", ts, "u-2", nil, "normal", nil, "s", 1, nil, nil))

	events, err := store.GetEvents(context.Background(), &event.Filter{
		Custom: func(ev *event.Event) bool { return ev.UserID == "u-2" },
	}, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-2", events[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetEventMetrics(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectQuery("SELECT type, priority, COUNT(.+) FROM events(.+)GROUP BY type, priority").
		WillReturnRows(sqlmock.NewRows([]string{"type", "priority", "count"}).
			AddRow("match.created", "high", 3).
			AddRow("match.created", "normal", 2).
			AddRow("job.posted", "normal", 1))

	start := time.Now().Add(-time.Hour)
	end := time.Now()
	m, err := store.GetEventMetrics(context.Background(), "", start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(6), m.Total)
	assert.Equal(t, int64(5), m.ByType[event.MatchCreated])
	assert.Equal(t, int64(3), m.ByPriority["high"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteEvent(t *testing.T) {
	store, mock := newMockStore(t, Config{})

	mock.ExpectExec("DELETE FROM events WHERE id =").
		WithArgs("ev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.DeleteEvent(context.Background(), "ev-1"))

	mock.ExpectExec("DELETE FROM events WHERE id =").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.DeleteEvent(context.Background(), "missing"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchiveOldEvents(t *testing.T) {
	store, mock := newMockStore(t, Config{RetentionDays: 30, ArchiveEnabled: true})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events_archive SELECT").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM events WHERE timestamp <").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := store.ArchiveOldEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArchiveDisabled(t *testing.T) {
	store, mock := newMockStore(t, Config{RetentionDays: 30, ArchiveEnabled: false})
	n, err := store.ArchiveOldEvents(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCleanupEvents(t *testing.T) {
	store, mock := newMockStore(t, Config{RetentionDays: 30, ArchiveEnabled: true})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events_archive SELECT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM events WHERE timestamp <").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("DELETE FROM events_archive WHERE timestamp <").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.CleanupEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
