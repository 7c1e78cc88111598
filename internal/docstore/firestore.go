package docstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultFirestoreURL is the public Firestore REST endpoint
const DefaultFirestoreURL = "https://firestore.googleapis.com/v1"

// FirestoreConfig addresses one Firestore database
type FirestoreConfig struct {
	BaseURL      string
	ProjectID    string
	APIKey       string
	PollInterval time.Duration
}

// Firestore talks to the Firestore REST API. The REST surface has no
// listen stream, so subscriptions poll runQuery and deliver only when the
// result set changed.
type Firestore struct {
	httpClient   *resty.Client
	root         string
	pollInterval time.Duration
	logger       *zap.Logger
}

type firestoreDocument struct {
	Name       string         `json:"name"`
	Fields     map[string]any `json:"fields"`
	CreateTime string         `json:"createTime,omitempty"`
	UpdateTime string         `json:"updateTime,omitempty"`
}

type firestoreRunQueryItem struct {
	Document *firestoreDocument `json:"document,omitempty"`
	ReadTime string             `json:"readTime,omitempty"`
}

type firestoreError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewFirestore builds the REST client. Requests are never retried: a failed
// write or query is reported to the caller as is.
func NewFirestore(cfg FirestoreConfig, logger *zap.Logger) *Firestore {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultFirestoreURL
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetLogger(logger.Sugar()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetQueryParam("key", cfg.APIKey)
	}

	return &Firestore{
		httpClient:   client,
		root:         fmt.Sprintf("/projects/%s/databases/(default)/documents", url.PathEscape(cfg.ProjectID)),
		pollInterval: pollInterval,
		logger:       logger,
	}
}

func (s *Firestore) docPath(collection, id string) string {
	return s.root + "/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
}

func (s *Firestore) Get(ctx context.Context, collection, id string) (Document, error) {
	var doc firestoreDocument
	var apiErr firestoreError
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetResult(&doc).
		SetError(&apiErr).
		Get(s.docPath(collection, id))
	if err != nil {
		return Document{}, fmt.Errorf("failed to call Firestore: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Document{}, ErrNotFound
	}
	if resp.IsError() {
		return Document{}, fmt.Errorf("Firestore get %s/%s: %s (status: %d)", collection, id, apiErr.Error.Message, resp.StatusCode())
	}

	fields, err := decodeFields(doc.Fields)
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return Document{ID: id, Fields: fields}, nil
}

// MergeWrite patches only the given top-level fields via updateMask.
// A missing document is created.
func (s *Firestore) MergeWrite(ctx context.Context, collection, id string, fields Fields) error {
	paths := make([]string, 0, len(fields))
	for k := range fields {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	var apiErr firestoreError
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetQueryParamsFromValues(url.Values{"updateMask.fieldPaths": paths}).
		SetBody(map[string]any{"fields": encodeFields(fields)}).
		SetError(&apiErr).
		Patch(s.docPath(collection, id))
	if err != nil {
		return fmt.Errorf("failed to call Firestore: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Firestore patch %s/%s: %s (status: %d)", collection, id, apiErr.Error.Message, resp.StatusCode())
	}

	s.logger.Debug("Firestore document patched",
		zap.String("collection", collection),
		zap.String("id", id),
		zap.Strings("fields", paths),
	)
	return nil
}

func (s *Firestore) Subscribe(q Query, onSnapshot SnapshotFunc, onError ErrorFunc) Subscription {
	if err := q.Validate(); err != nil {
		return startPump(func(context.Context) ([]Document, error) { return nil, err }, onSnapshot, onError, pumpOptions{}, s.logger)
	}
	fetch := func(ctx context.Context) ([]Document, error) {
		return s.runQuery(ctx, q)
	}
	return startPump(fetch, onSnapshot, onError, pumpOptions{
		interval:      s.pollInterval,
		skipUnchanged: true,
	}, s.logger)
}

// runQuery sends the filters to the server and orders locally, since a
// server side orderBy drops documents missing the field
func (s *Firestore) runQuery(ctx context.Context, q Query) ([]Document, error) {
	structured := map[string]any{
		"from": []any{map[string]any{"collectionId": q.Collection}},
	}
	if where := firestoreWhere(q.Filters); where != nil {
		structured["where"] = where
	}

	var items []firestoreRunQueryItem
	var apiErr firestoreError
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{"structuredQuery": structured}).
		SetResult(&items).
		SetError(&apiErr).
		Post(s.root + ":runQuery")
	if err != nil {
		return nil, fmt.Errorf("failed to call Firestore: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Firestore runQuery %s: %s (status: %d)", q.Collection, apiErr.Error.Message, resp.StatusCode())
	}

	docs := make([]Document, 0, len(items))
	for _, item := range items {
		if item.Document == nil {
			continue
		}
		fields, err := decodeFields(item.Document.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", item.Document.Name, err)
		}
		docs = append(docs, Document{ID: lastSegment(item.Document.Name), Fields: fields})
	}
	return q.Apply(docs), nil
}

func firestoreWhere(filters []Filter) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	ops := map[Op]string{OpEqual: "EQUAL", OpNotEqual: "NOT_EQUAL", OpIn: "IN"}

	parts := make([]any, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, map[string]any{
			"fieldFilter": map[string]any{
				"field": map[string]any{"fieldPath": f.Path},
				"op":    ops[f.Op],
				"value": encodeValue(f.Value),
			},
		})
	}
	if len(parts) == 1 {
		return parts[0].(map[string]any)
	}
	return map[string]any{
		"compositeFilter": map[string]any{"op": "AND", "filters": parts},
	}
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
