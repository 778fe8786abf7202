// Package postgres keeps documents as JSONB rows in a single table keyed by
// path. Transactions run at SERIALIZABLE and are retried on serialization
// failures; listeners poll.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/xid"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	path TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	version BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection);
CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops);
`

type Store struct {
	db           *sql.DB
	log          zerolog.Logger
	maxAttempts  int
	pollInterval time.Duration
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:           db,
		log:          zerolog.Nop(),
		maxAttempts:  5,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureSchema creates the documents table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Document, error) {
	return getDocument(ctx, s.db, ref, false)
}

func getDocument(ctx context.Context, q queryer, ref docstore.Ref, forUpdate bool) (*docstore.Document, error) {
	query := `SELECT data, version, updated_at FROM documents WHERE path = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var raw []byte
	doc := docstore.Document{Ref: ref}
	if err := q.QueryRowContext(ctx, query, ref.Path()).Scan(&raw, &doc.Version, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	data, err := decodeData(raw)
	if err != nil {
		return nil, err
	}
	doc.Data = data
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	match := make(map[string]any, len(filters))
	for _, f := range filters {
		match[f.Field] = f.Value
	}
	matchJSON, err := json.Marshal(docstore.Clone(match))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, data, version, updated_at
		FROM documents
		WHERE collection = $1 AND data @> $2::jsonb
		ORDER BY path
	`, collection, string(matchJSON))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]docstore.Document, 0, 8)
	for rows.Next() {
		var path string
		var raw []byte
		var doc docstore.Document
		if err := rows.Scan(&path, &raw, &doc.Version, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		ref, ok := docstore.ParseRef(path)
		if !ok {
			continue
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, err
		}
		doc.Ref = ref
		doc.Data = data
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) NewRef(collection string) docstore.Ref {
	return docstore.Doc(collection, xid.New(""))
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data map[string]any) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		tx.Set(ref, data)
		return nil
	})
}

func (s *Store) Update(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		tx.Update(ref, fields)
		return nil
	})
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		batch := &docstore.Batch{}
		if err := fn(ctx, batch); err != nil {
			return err
		}
		err := s.commit(ctx, batch.Ops)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("serialization failure, retrying transaction")
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", docstore.ErrConflict, s.maxAttempts, lastErr)
}

func (s *Store) commit(ctx context.Context, ops []docstore.Op) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	for _, op := range ops {
		if err := applyOp(ctx, pgTx, op); err != nil {
			return err
		}
	}
	return pgTx.Commit()
}

func applyOp(ctx context.Context, pgTx *sql.Tx, op docstore.Op) error {
	if op.Ref.IsZero() {
		return fmt.Errorf("%s: empty document reference", op.Kind)
	}
	path := op.Ref.Path()

	switch op.Kind {
	case docstore.OpCreate:
		payload, err := encodeData(docstore.Merge(nil, op.Data))
		if err != nil {
			return err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO documents (path, collection, data, version, updated_at)
			VALUES ($1, $2, $3::jsonb, 1, now())
		`, path, op.Ref.Collection, payload)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, path)
			}
			return err
		}
	case docstore.OpSet:
		payload, err := encodeData(docstore.Merge(nil, op.Data))
		if err != nil {
			return err
		}
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO documents (path, collection, data, version, updated_at)
			VALUES ($1, $2, $3::jsonb, 1, now())
			ON CONFLICT (path)
			DO UPDATE SET data = EXCLUDED.data, version = documents.version + 1, updated_at = now()
		`, path, op.Ref.Collection, payload)
		return err
	case docstore.OpUpdate:
		current, err := getDocument(ctx, pgTx, op.Ref, true)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: update %s: %v", docstore.ErrConflict, path, err)
			}
			return err
		}
		if op.Options.MatchVersion != 0 && current.Version != op.Options.MatchVersion {
			return fmt.Errorf("%w: update %s: version changed", docstore.ErrConflict, path)
		}
		payload, err := encodeData(docstore.Merge(current.Data, op.Data))
		if err != nil {
			return err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE documents SET data = $2::jsonb, version = version + 1, updated_at = now()
			WHERE path = $1
		`, path, payload)
		return err
	case docstore.OpDelete:
		query := `DELETE FROM documents WHERE path = $1`
		args := []any{path}
		if op.Options.MatchVersion != 0 {
			query += ` AND version = $2`
			args = append(args, op.Options.MatchVersion)
		}
		res, err := pgTx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if op.Options.MustExist && affected == 0 {
			return fmt.Errorf("%w: delete %s: missing or changed", docstore.ErrConflict, path)
		}
	default:
		return fmt.Errorf("unsupported op %d", op.Kind)
	}
	return nil
}

func (s *Store) ListenCollection(ctx context.Context, collection string, fn docstore.CollectionHandler) (docstore.Listener, error) {
	return s.poll(ctx, func(ctx context.Context) (string, func()) {
		docs, err := s.Query(ctx, collection)
		if err != nil {
			return "error:" + err.Error(), func() { fn(nil, err) }
		}
		var b strings.Builder
		for _, doc := range docs {
			b.WriteString(doc.Ref.Path())
			b.WriteByte('@')
			b.WriteString(strconv.FormatInt(doc.Version, 10))
			b.WriteByte(';')
		}
		return b.String(), func() { fn(docs, nil) }
	}), nil
}

func (s *Store) ListenDocument(ctx context.Context, ref docstore.Ref, fn docstore.DocumentHandler) (docstore.Listener, error) {
	return s.poll(ctx, func(ctx context.Context) (string, func()) {
		doc, err := s.Get(ctx, ref)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			return "missing", func() { fn(nil, nil) }
		case err != nil:
			return "error:" + err.Error(), func() { fn(nil, err) }
		default:
			return strconv.FormatInt(doc.Version, 10), func() { fn(doc, nil) }
		}
	}), nil
}

// poll runs read on every tick and delivers only when its fingerprint moves.
// The first read is always delivered.
func (s *Store) poll(ctx context.Context, read func(context.Context) (string, func())) docstore.Listener {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		last, deliver := read(ctx)
		if ctx.Err() == nil {
			deliver()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next, deliver := read(ctx)
				if ctx.Err() != nil {
					return
				}
				if next != last {
					last = next
					deliver()
				}
			}
		}
	}()
	return listener{cancel: cancel}
}

type listener struct {
	cancel context.CancelFunc
}

func (l listener) Stop() {
	l.cancel()
}

func encodeData(data map[string]any) (string, error) {
	payload, err := json.Marshal(docstore.Clone(data))
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func decodeData(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
