package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"edgenode/internal/reading"
)

// timeLayout has a fixed width so received_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one received line as journaled.
type Record struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Transport  string          `json:"transport"`
	Variant    string          `json:"variant"`
	Raw        string          `json:"raw"`
	Fields     []reading.Field `json:"fields"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Store journals parsed readings and the lines that failed to parse.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Insert writes rec and its fields atomically and returns the stored copy
// with ID and ReceivedAt filled in.
func (s *Store) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = s.now()
	}
	rec.ReceivedAt = rec.ReceivedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("rollback insert", "error", err)
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO readings (id, source, transport, variant, raw, received_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Source, rec.Transport, rec.Variant, rec.Raw, rec.ReceivedAt.Format(timeLayout),
	); err != nil {
		return Record{}, fmt.Errorf("insert reading: %w", err)
	}

	for i, f := range rec.Fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reading_fields (reading_id, position, quantity, value, unit) VALUES (?, ?, ?, ?, ?)`,
			rec.ID, i, string(f.Quantity), f.Value, string(f.Unit),
		); err != nil {
			return Record{}, fmt.Errorf("insert field %s: %w", f.Quantity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// InsertUnparsed keeps a line no layout recognized.
func (s *Store) InsertUnparsed(ctx context.Context, source, transport, raw string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unparsed_messages (id, source, transport, raw, received_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), source, transport, raw, s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert unparsed: %w", err)
	}
	return nil
}

// Latest returns up to limit records, newest first. An empty source matches all.
func (s *Store) Latest(ctx context.Context, source string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, transport, variant, raw, received_at
		FROM readings
		WHERE (? = '' OR source = ?)
		ORDER BY received_at DESC, id
		LIMIT ?`, source, source, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest: %w", err)
	}

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Transport, &rec.Variant, &rec.Raw, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		rec.ReceivedAt, err = time.Parse(timeLayout, ts)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse received_at %q: %w", ts, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// The single connection must be free before fields are loaded.
	if err := rows.Close(); err != nil {
		return nil, err
	}

	for i := range out {
		fields, err := s.fields(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Fields = fields
	}
	return out, nil
}

func (s *Store) fields(ctx context.Context, id string) ([]reading.Field, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT quantity, value, unit FROM reading_fields WHERE reading_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	var out []reading.Field
	for rows.Next() {
		var q, u string
		var f reading.Field
		if err := rows.Scan(&q, &f.Value, &u); err != nil {
			return nil, err
		}
		f.Quantity, f.Unit = reading.Quantity(q), reading.Unit(u)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Count returns the number of journaled readings.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	var ok int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&ok)
}
