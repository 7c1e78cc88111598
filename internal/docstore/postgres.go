package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"irepair-admin/internal/changefeed"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
)`

// Postgres stores documents as JSONB rows. Live subscriptions refetch when
// the change feed reports a write to their collection, and optionally on a
// poll interval for writers that bypass the feed.
type Postgres struct {
	db           *sql.DB
	feed         changefeed.Publisher
	hub          *changefeed.Hub
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewPostgres(db *sql.DB, feed changefeed.Publisher, hub *changefeed.Hub, pollInterval time.Duration, logger *zap.Logger) *Postgres {
	return &Postgres{
		db:           db,
		feed:         feed,
		hub:          hub,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// EnsureSchema creates the documents table when missing
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

func (s *Postgres) Subscribe(q Query, onSnapshot SnapshotFunc, onError ErrorFunc) Subscription {
	if err := q.Validate(); err != nil {
		return startPump(func(context.Context) ([]Document, error) { return nil, err }, onSnapshot, onError, pumpOptions{}, s.logger)
	}
	query, args := buildSelect(q)

	var p *pump
	var stopListening func()
	register := make(chan struct{})
	fetch := func(ctx context.Context) ([]Document, error) {
		<-register
		docs, err := s.queryDocuments(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		// jsonb ordering ranks types before values
		q.sort(docs)
		return docs, nil
	}
	p = startPump(fetch, onSnapshot, onError, pumpOptions{
		interval: s.pollInterval,
		onStop: func() {
			<-register
			stopListening()
		},
	}, s.logger)

	stopListening = s.hub.Listen(q.Collection, func(changefeed.Change) { p.poke() })
	close(register)
	return p
}

func (s *Postgres) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		fields, err := decodeJSONFields(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func (s *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	fields, err := decodeJSONFields(raw)
	if err != nil {
		return Document{}, fmt.Errorf("document %s: %w", id, err)
	}
	return Document{ID: id, Fields: fields}, nil
}

// MergeWrite upserts the row, replacing only the given top-level keys
func (s *Postgres) MergeWrite(ctx context.Context, collection, id string, fields Fields) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id)
		DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = NOW()`,
		collection, id, string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}

	if err := s.feed.Publish(ctx, changefeed.NewChange(collection, id, changefeed.OpMerge)); err != nil {
		s.logger.Warn("Failed to publish document change",
			zap.String("collection", collection),
			zap.String("id", id),
			zap.Error(err),
		)
	}
	return nil
}

// buildSelect renders q against the documents table. Paths are passed as
// text[] parameters so nothing user supplied reaches the SQL text.
func buildSelect(q Query) (string, []any) {
	var sb strings.Builder
	args := []any{q.Collection}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString("SELECT id, data FROM documents WHERE collection = $1")
	for _, f := range q.Filters {
		path := next(pq.Array(strings.Split(f.Path, ".")))
		switch f.Op {
		case OpEqual:
			fmt.Fprintf(&sb, " AND (data #>> %s::text[]) = %s", path, next(FormatValue(f.Value)))
		case OpNotEqual:
			fmt.Fprintf(&sb, " AND (data #>> %s::text[]) <> %s", path, next(FormatValue(f.Value)))
		case OpIn:
			values, _ := f.Value.([]string)
			fmt.Fprintf(&sb, " AND (data #>> %s::text[]) = ANY(%s)", path, next(pq.Array(values)))
		}
	}

	sb.WriteString(" ORDER BY ")
	for _, o := range q.OrderBy {
		path := next(pq.Array(strings.Split(o.Path, ".")))
		if o.Desc {
			fmt.Fprintf(&sb, "(data #> %s::text[]) DESC NULLS LAST, ", path)
		} else {
			fmt.Fprintf(&sb, "(data #> %s::text[]) ASC NULLS FIRST, ", path)
		}
	}
	sb.WriteString("id ASC")
	return sb.String(), args
}

func decodeJSONFields(raw []byte) (Fields, error) {
	fields := Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode data: %w", err)
	}
	return fields, nil
}
