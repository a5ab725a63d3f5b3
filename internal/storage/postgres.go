package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/freelancing-solutions/jobfinders-event-service/internal/domain/event"
)

const eventColumns = "id, type, timestamp, user_id, session_id, priority, correlation_id, source, version, metadata, payload"

// PostgresStore persists events to a live table and a structurally
// identical archive table, keyed by event id.
type PostgresStore struct {
	conn *sql.DB
	cfg  Config
	log  *slog.Logger
}

// NewPostgresStore opens and pings a connection with a bounded pool.
func NewPostgresStore(dsn string, cfg Config, log *slog.Logger) (*PostgresStore, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(3)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresStoreWithConn(conn, cfg, log), nil
}

// NewPostgresStoreWithConn wraps an existing connection (tests inject a
// mock through here).
func NewPostgresStoreWithConn(conn *sql.DB, cfg Config, log *slog.Logger) *PostgresStore {
	cfg.normalize()
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{conn: conn, cfg: cfg, log: log}
}

// EnsureSchema creates the live and archive tables plus the secondary
// access-path indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			user_id TEXT,
			session_id TEXT,
			priority TEXT NOT NULL DEFAULT 'normal',
			correlation_id TEXT,
			source TEXT,
			version INT NOT NULL DEFAULT 1,
			metadata TEXT,
			payload TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS events_archive (LIKE events INCLUDING ALL)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events (type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user ON events (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) encode(ev *event.Event) (metadata, payload string, err error) {
	if ev.Metadata != nil {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return "", "", fmt.Errorf("marshal metadata: %w", err)
		}
		metadata, err = encodeColumn(raw, s.cfg.EnableCompression, s.cfg.CompressionThreshold)
		if err != nil {
			return "", "", err
		}
	}
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return "", "", fmt.Errorf("marshal payload: %w", err)
		}
		payload, err = encodeColumn(raw, s.cfg.EnableCompression, s.cfg.CompressionThreshold)
		if err != nil {
			return "", "", err
		}
	}
	return metadata, payload, nil
}

// SaveEvent inserts one event; a duplicate id is a no-op.
func (s *PostgresStore) SaveEvent(ctx context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	metadata, payload, err := s.encode(ev)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, string(ev.Type), ev.Timestamp, nullable(ev.UserID), nullable(ev.SessionID),
		ev.Priority.String(), nullable(ev.CorrelationID), ev.Source, ev.Version, metadata, payload,
	)
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	return nil
}

// SaveBatch performs one transactional bulk insert. Duplicate ids inside
// or across batches are skipped, not failed: the same event may be
// offered more than once under at-least-once delivery.
func (s *PostgresStore) SaveBatch(ctx context.Context, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (`+eventColumns+`, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		 ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			s.log.Warn("BATCH_EVENT_SKIPPED", "event_id", ev.ID, "err", err)
			continue
		}
		metadata, payload, err := s.encode(ev)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID, string(ev.Type), ev.Timestamp, nullable(ev.UserID), nullable(ev.SessionID),
			ev.Priority.String(), nullable(ev.CorrelationID), ev.Source, ev.Version, metadata, payload,
		); err != nil {
			return fmt.Errorf("batch insert %s: %w", ev.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// buildWhere translates the SQL-expressible filter clauses. The custom
// predicate cannot be pushed down and is applied after scanning.
func buildWhere(f *event.Filter) (string, []any) {
	if f == nil {
		return "", nil
	}
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		clauses = append(clauses, "type = ANY("+arg(pq.Array(types))+")")
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = "+arg(f.UserID))
	}
	if f.Source != "" {
		clauses = append(clauses, "source = "+arg(f.Source))
	}
	if f.Priority != 0 {
		clauses = append(clauses, "priority = "+arg(f.Priority.String()))
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "timestamp <= "+arg(f.Until))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// GetEvents returns filtered events newest-first.
func (s *PostgresStore) GetEvents(ctx context.Context, f *event.Filter, limit, offset int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	where, args := buildWhere(f)
	query := "SELECT " + eventColumns + " FROM events" + where +
		fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if f != nil && f.Custom != nil && !f.Custom(ev) {
			continue
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetEventByID fetches one event, ErrNotFound when absent.
func (s *PostgresStore) GetEventByID(ctx context.Context, id string) (*event.Event, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = $1", id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *PostgresStore) GetEventsByUser(ctx context.Context, userID string, limit, offset int) ([]*event.Event, error) {
	return s.GetEvents(ctx, &event.Filter{UserID: userID}, limit, offset)
}

func (s *PostgresStore) GetEventsByType(ctx context.Context, t event.Type, limit, offset int) ([]*event.Event, error) {
	return s.GetEvents(ctx, &event.Filter{Types: []event.Type{t}}, limit, offset)
}

// GetEventMetrics aggregates counts by type and priority over a window.
// An empty type means all types.
func (s *PostgresStore) GetEventMetrics(ctx context.Context, t event.Type, start, end time.Time) (*Metrics, error) {
	f := &event.Filter{Since: start, Until: end}
	if t != "" {
		f.Types = []event.Type{t}
	}
	where, args := buildWhere(f)

	rows, err := s.conn.QueryContext(ctx,
		"SELECT type, priority, COUNT(*) FROM events"+where+" GROUP BY type, priority", args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	m := &Metrics{
		ByType:     make(map[event.Type]int64),
		ByPriority: make(map[string]int64),
		Start:      start,
		End:        end,
	}
	for rows.Next() {
		var typ, prio string
		var count int64
		if err := rows.Scan(&typ, &prio, &count); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		m.Total += count
		m.ByType[event.Type(typ)] += count
		m.ByPriority[prio] += count
	}
	return m, rows.Err()
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM events WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteEvents(ctx context.Context, f *event.Filter) (int64, error) {
	where, args := buildWhere(f)
	res, err := s.conn.ExecContext(ctx, "DELETE FROM events"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ArchiveOldEvents moves rows older than the retention window into the
// archive table inside one transaction and returns the count moved.
func (s *PostgresStore) ArchiveOldEvents(ctx context.Context) (int64, error) {
	if !s.cfg.ArchiveEnabled {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events_archive SELECT * FROM events WHERE timestamp < $1
		 ON CONFLICT (id) DO NOTHING`, cutoff); err != nil {
		return 0, fmt.Errorf("copy to archive: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM events WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune live events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit archive: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("EVENTS_ARCHIVED", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// CleanupEvents archives old live rows, then prunes archive rows that
// have outlived twice the retention window.
func (s *PostgresStore) CleanupEvents(ctx context.Context) (int64, error) {
	archived, err := s.ArchiveOldEvents(ctx)
	if err != nil {
		return archived, err
	}
	cutoff := time.Now().AddDate(0, 0, -2*s.cfg.RetentionDays)
	res, err := s.conn.ExecContext(ctx, "DELETE FROM events_archive WHERE timestamp < $1", cutoff)
	if err != nil {
		return archived, fmt.Errorf("prune archive: %w", err)
	}
	pruned, _ := res.RowsAffected()
	return archived + pruned, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		ev       event.Event
		typ      string
		userID   sql.NullString
		session  sql.NullString
		prio     string
		corr     sql.NullString
		metadata sql.NullString
		payload  sql.NullString
	)
	err := row.Scan(&ev.ID, &typ, &ev.Timestamp, &userID, &session, &prio, &corr,
		&ev.Source, &ev.Version, &metadata, &payload)
	if err != nil {
		return nil, err
	}
	ev.Type = event.Type(typ)
	ev.Priority = event.ParsePriority(prio)
	ev.UserID = userID.String
	ev.SessionID = session.String
	ev.CorrelationID = corr.String

	if metadata.Valid && metadata.String != "" {
		raw, err := decodeColumn(metadata.String)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if payload.Valid && payload.String != "" {
		raw, err := decodeColumn(payload.String)
		if err != nil {
			return nil, err
		}
		p, err := event.DecodePayload(ev.Type, raw)
		if err != nil {
			return nil, err
		}
		ev.Payload = p
	}
	return &ev, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
