package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"meetrag/internal/domain"
	"meetrag/internal/recordstore"
)

var _ recordstore.Store = (*Store)(nil)

const schema = `
	CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		createdAt INTEGER NOT NULL,
		meetingType TEXT NOT NULL,
		language TEXT NOT NULL,
		originalFile TEXT NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		doc TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_meetings_created ON meetings(createdAt);
	CREATE INDEX IF NOT EXISTS idx_meetings_fingerprint ON meetings(fingerprint);
`

// Store keeps one JSON document per meeting in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-process database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, rec *domain.MeetingRecord) error {
	if rec == nil || rec.ID == "" {
		return domain.Validationf("record has no id")
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, createdAt, meetingType, language, originalFile, fingerprint, status, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			createdAt = excluded.createdAt,
			meetingType = excluded.meetingType,
			language = excluded.language,
			originalFile = excluded.originalFile,
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			doc = excluded.doc
	`, rec.ID, rec.CreatedAt.UnixNano(), rec.MeetingType, rec.Language,
		rec.Source.OriginalFile, rec.Fingerprint, string(rec.Status), string(doc))
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.MeetingRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT doc FROM meetings WHERE id = ?`, id)
	rec, err := scanDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("meeting %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if n == 0 {
		return domain.NotFoundf("meeting %s not found", id)
	}
	return nil
}

func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) (*domain.MeetingRecord, error) {
	if fingerprint == "" {
		return nil, domain.NotFoundf("empty fingerprint")
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT doc FROM meetings WHERE fingerprint = ?
		ORDER BY createdAt ASC LIMIT 1
	`, fingerprint)
	rec, err := scanDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("no meeting with fingerprint %s", fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, q recordstore.ListQuery) (recordstore.Page, error) {
	q, err := q.Normalize()
	if err != nil {
		return recordstore.Page{}, err
	}
	var where []string
	var args []any
	if q.MeetingType != "" {
		where = append(where, "meetingType = ?")
		args = append(args, q.MeetingType)
	}
	if q.Language != "" {
		where = append(where, "language = ?")
		args = append(args, q.Language)
	}
	if !q.From.IsZero() {
		where = append(where, "createdAt >= ?")
		args = append(args, q.From.UnixNano())
	}
	if !q.To.IsZero() {
		where = append(where, "createdAt <= ?")
		args = append(args, q.To.UnixNano())
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var page recordstore.Page
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM meetings "+clause, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count records: %w", err)
	}

	order := "createdAt DESC, id ASC"
	switch q.Sort {
	case recordstore.SortOldest:
		order = "createdAt ASC, id ASC"
	case recordstore.SortName:
		order = "originalFile ASC, createdAt DESC, id ASC"
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT doc FROM meetings %s ORDER BY %s LIMIT ? OFFSET ?", clause, order),
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return page, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	page.Records = []*domain.MeetingRecord{}
	for rows.Next() {
		rec, err := scanDoc(rows)
		if err != nil {
			return page, fmt.Errorf("scan record: %w", err)
		}
		page.Records = append(page.Records, rec)
	}
	return page, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDoc(row scanner) (*domain.MeetingRecord, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		return nil, err
	}
	var rec domain.MeetingRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, domain.Wrap(domain.KindIntegrity, err, "corrupt meeting document")
	}
	return &rec, nil
}
