package docstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"irepair-admin/internal/changefeed"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, changefeed.Change) error {
	return errors.New("feed down")
}

func setupPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock, *changefeed.Hub) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := changefeed.NewHub()
	return NewPostgres(db, changefeed.NewLocal(hub), hub, 0, zap.NewNop()), mock, hub
}

func TestBuildSelect(t *testing.T) {
	query, args := buildSelect(Query{
		Collection: "technicians",
		Filters: []Filter{
			{Path: "status", Op: OpEqual, Value: "approved"},
			{Path: "hasShop", Op: OpNotEqual, Value: true},
			{Path: "status", Op: OpIn, Value: []string{"approved", "pending"}},
		},
		OrderBy: []Order{{Path: "createdAt", Desc: true}},
	})

	assert.Equal(t, "SELECT id, data FROM documents WHERE collection = $1"+
		" AND (data #>> $2::text[]) = $3"+
		" AND (data #>> $4::text[]) <> $5"+
		" AND (data #>> $6::text[]) = ANY($7)"+
		" ORDER BY (data #> $8::text[]) DESC NULLS LAST, id ASC", query)
	require.Len(t, args, 8)
	assert.Equal(t, "technicians", args[0])
	assert.Equal(t, "approved", args[2])
	assert.Equal(t, "true", args[4])
	assert.Equal(t, pq.Array([]string{"createdAt"}), args[7])
}

func TestPostgres_Get(t *testing.T) {
	store, mock, _ := setupPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM documents WHERE collection = $1 AND id = $2`)).
		WithArgs("diagnoses", "d1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"brand":"Apple","estimatedCost":120}`)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM documents`)).
		WithArgs("diagnoses", "missing").
		WillReturnError(sql.ErrNoRows)

	doc, err := store.Get(context.Background(), "diagnoses", "d1")
	require.NoError(t, err)
	assert.Equal(t, "Apple", doc.Fields.String("brand"))
	assert.Equal(t, "120", doc.Fields.String("estimatedCost"))

	_, err = store.Get(context.Background(), "diagnoses", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MergeWritePublishesChange(t *testing.T) {
	store, mock, hub := setupPostgres(t)

	changes := make(chan changefeed.Change, 1)
	hub.Listen("technicians", func(c changefeed.Change) { changes <- c })

	mock.ExpectExec(regexp.QuoteMeta(`data = documents.data || EXCLUDED.data`)).
		WithArgs("technicians", "t1", `{"isDeleted":true}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MergeWrite(context.Background(), "technicians", "t1", Fields{"isDeleted": true}))
	c := <-changes
	assert.Equal(t, "t1", c.DocumentID)
	assert.Equal(t, changefeed.OpMerge, c.Op)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_MergeWriteIgnoresFeedFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgres(db, failingPublisher{}, changefeed.NewHub(), 0, zap.NewNop())

	mock.ExpectExec(`INSERT INTO documents`).WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.MergeWrite(context.Background(), "repairs", "r1", Fields{"isDeleted": true}))

	mock.ExpectExec(`INSERT INTO documents`).WillReturnError(errors.New("connection refused"))
	assert.Error(t, store.MergeWrite(context.Background(), "repairs", "r1", Fields{"isDeleted": true}))
}

func TestPostgres_SubscribeRefetchesOnChange(t *testing.T) {
	store, mock, hub := setupPostgres(t)

	selectRe := regexp.QuoteMeta(`SELECT id, data FROM documents WHERE collection = $1`)
	mock.ExpectQuery(selectRe).
		WithArgs("repairs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).AddRow("r1", []byte(`{"issue":"cracked screen"}`)))
	mock.ExpectQuery(selectRe).
		WithArgs("repairs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).
			AddRow("r1", []byte(`{"issue":"cracked screen"}`)).
			AddRow("r2", []byte(`{"issue":"battery"}`)))

	snaps := make(chan []Document, 4)
	sub := store.Subscribe(Query{Collection: "repairs"}, func(docs []Document) { snaps <- docs }, func(err error) { t.Errorf("unexpected error: %v", err) })

	first := nextSnapshot(t, snaps)
	require.Len(t, first, 1)
	assert.Equal(t, 1, hub.Listeners("repairs"))

	hub.Dispatch(changefeed.NewChange("repairs", "r2", changefeed.OpMerge))
	second := nextSnapshot(t, snaps)
	require.Len(t, second, 2)
	assert.Equal(t, "battery", second[1].Fields.String("issue"))

	sub.Unsubscribe()
	assert.Equal(t, 0, hub.Listeners("repairs"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SubscribeOrdersMixedTypesLikeMemory(t *testing.T) {
	store, mock, _ := setupPostgres(t)

	// jsonb DESC puts numbers before strings; rows arrive in that order
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, data FROM documents WHERE collection = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).
			AddRow("r2", []byte(`{"createdAt":1700000000000}`)).
			AddRow("r1", []byte(`{"createdAt":"2024-01-05T00:00:00Z"}`)).
			AddRow("r3", []byte(`{}`)))

	q := Query{Collection: "repairs", OrderBy: []Order{{Path: "createdAt", Desc: true}}}
	snaps := make(chan []Document, 1)
	sub := store.Subscribe(q, func(docs []Document) { snaps <- docs }, func(err error) { t.Errorf("unexpected error: %v", err) })
	defer sub.Unsubscribe()

	got := nextSnapshot(t, snaps)
	require.Len(t, got, 3)
	want := q.Apply(got)
	assert.Equal(t, []string{want[0].ID, want[1].ID, want[2].ID}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, []string{"r1", "r2", "r3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestPostgres_SubscribeErrorEndsSubscription(t *testing.T) {
	store, mock, hub := setupPostgres(t)

	mock.ExpectQuery(`SELECT id, data FROM documents`).WillReturnError(errors.New("permission denied"))

	errs := make(chan error, 1)
	store.Subscribe(Query{Collection: "appointments"}, func([]Document) { t.Error("unexpected snapshot") }, func(err error) { errs <- err })

	err := <-errs
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, 0, hub.Listeners("appointments"))
}

func TestPostgres_EnsureSchema(t *testing.T) {
	store, mock, _ := setupPostgres(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
