package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"irepair-admin/internal/docstore"
	"irepair-admin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGetter struct {
	mu    sync.Mutex
	docs  map[string]docstore.Fields
	fail  map[string]bool
	calls map[string]int
	block chan struct{}
}

func newFakeGetter() *fakeGetter {
	return &fakeGetter{
		docs:  map[string]docstore.Fields{},
		fail:  map[string]bool{},
		calls: map[string]int{},
	}
}

func (g *fakeGetter) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	key := collection + "/" + id
	g.mu.Lock()
	g.calls[key]++
	fields, ok := g.docs[key]
	fail := g.fail[key]
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return docstore.Document{}, ctx.Err()
		}
	}
	if fail {
		return docstore.Document{}, errors.New("permission denied")
	}
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}

func bookingSpec() Spec {
	return Spec{
		Decode: models.DecodeBooking,
		Local: []Field{
			ValueField("device", Path("deviceType"), Path("diagnosisData.category")),
			ValueField("issue", Path("issue"), Path("diagnosisData.issue")),
		},
		References: []Reference{
			{
				Name:         "user",
				Collection:   models.CollectionUsers,
				IDPath:       "userId",
				EmbeddedPath: "user",
				Fields: []Field{
					NameField("userName", Path("fullName"), Join(" ", "firstName", "lastName")),
					ValueField("userPhone", Path("phone")),
				},
			},
			{
				Name:       "technician",
				Collection: models.CollectionTechnicians,
				IDPath:     "technicianId",
				Fields:     []Field{NameField("technicianName", Path("fullName"))},
			},
		},
	}
}

func TestResolve_MergesReferencedFields(t *testing.T) {
	store := newFakeGetter()
	store.docs["users/u1"] = docstore.Fields{"firstName": "Ana", "lastName": "Cruz", "phone": "0917"}
	store.docs["technicians/t1"] = docstore.Fields{"fullName": "Ben Reyes"}

	r := New(store, bookingSpec(), 4, zap.NewNop())
	items, err := r.Resolve(context.Background(), []docstore.Document{
		{ID: "r1", Fields: docstore.Fields{"userId": "u1", "technicianId": "t1", "deviceType": "Phone", "status": map[string]any{"global": "Repairing"}}},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	d := items[0].Display
	assert.Equal(t, "Ana Cruz", d["userName"])
	assert.Equal(t, "0917", d["userPhone"])
	assert.Equal(t, "Ben Reyes", d["technicianName"])
	assert.Equal(t, "Phone", d["device"])
	assert.Equal(t, "N/A", d["issue"])
	assert.Equal(t, "Repairing", items[0].Record.StatusValue())
}

func TestResolve_SentinelsAreScopedToTheFailedReference(t *testing.T) {
	store := newFakeGetter()
	store.fail["users/u1"] = true
	store.docs["technicians/t1"] = docstore.Fields{"fullName": "Ben Reyes"}

	r := New(store, bookingSpec(), 4, zap.NewNop())
	items, err := r.Resolve(context.Background(), []docstore.Document{
		{ID: "r1", Fields: docstore.Fields{"userId": "u1", "technicianId": "t1"}},
		{ID: "r2", Fields: docstore.Fields{"userId": "ghost", "technicianId": "t1"}},
		{ID: "r3", Fields: docstore.Fields{}},
	})
	require.NoError(t, err)
	require.Len(t, items, 3)

	for _, item := range items {
		assert.Equal(t, SentinelName, item.Display["userName"], item.ID)
		assert.Equal(t, SentinelValue, item.Display["userPhone"], item.ID)
	}
	assert.Equal(t, "Ben Reyes", items[0].Display["technicianName"])
	assert.Equal(t, "Ben Reyes", items[1].Display["technicianName"])
	assert.Equal(t, SentinelName, items[2].Display["technicianName"])
}

func TestResolve_EmbeddedSnapshotSkipsFetch(t *testing.T) {
	store := newFakeGetter()
	store.docs["technicians/t1"] = docstore.Fields{"fullName": "Ben Reyes"}

	r := New(store, bookingSpec(), 4, zap.NewNop())
	items, err := r.Resolve(context.Background(), []docstore.Document{
		{ID: "a1", Fields: docstore.Fields{"userId": "u1", "user": map[string]any{"fullName": "Embedded Ana"}, "technicianId": "t1"}},
		// an embedded snapshot without any display field is not usable
		{ID: "a2", Fields: docstore.Fields{"userId": "u2", "user": map[string]any{"avatar": "x.png"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Embedded Ana", items[0].Display["userName"])
	assert.Equal(t, SentinelValue, items[0].Display["userPhone"])
	assert.Equal(t, 0, store.calls["users/u1"])
	assert.Equal(t, 1, store.calls["users/u2"])
}

func TestResolve_FetchesEachReferenceOncePerPass(t *testing.T) {
	store := newFakeGetter()
	store.docs["users/u1"] = docstore.Fields{"fullName": "Ana"}
	store.docs["technicians/t1"] = docstore.Fields{"fullName": "Ben"}

	docs := make([]docstore.Document, 0, 20)
	for i := 0; i < 20; i++ {
		docs = append(docs, docstore.Document{ID: string(rune('a' + i)), Fields: docstore.Fields{"userId": "u1", "technicianId": "t1"}})
	}

	r := New(store, bookingSpec(), 2, zap.NewNop())
	items, err := r.Resolve(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, items, 20)
	assert.Equal(t, 1, store.calls["users/u1"])
	assert.Equal(t, 1, store.calls["technicians/t1"])

	// idempotent against the same store state
	again, err := r.Resolve(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, items, again)
}

func TestResolve_PreservesOrderAndKeepsMistypedRecords(t *testing.T) {
	r := New(newFakeGetter(), bookingSpec(), 4, zap.NewNop())
	items, err := r.Resolve(context.Background(), []docstore.Document{
		{ID: "z", Fields: docstore.Fields{}},
		{ID: "odd", Fields: docstore.Fields{"status": float64(3), "issue": []any{"screen"}}},
		{ID: "a", Fields: docstore.Fields{}},
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"z", "odd", "a"}, []string{items[0].ID, items[1].ID, items[2].ID})
	assert.ElementsMatch(t, []string{"issue", "status.global"}, items[1].Record.DecodeIssues())
	assert.Equal(t, SentinelValue, items[1].Display["issue"])
}

func TestResolve_NumericPhonesKeepTheRecord(t *testing.T) {
	techSpec := Spec{
		Decode: models.DecodeTechnician,
		Local: []Field{
			NameField("name", Path("fullName")),
			ValueField("phone", Path("phone")),
		},
	}
	r := New(newFakeGetter(), techSpec, 4, zap.NewNop())
	items, err := r.Resolve(context.Background(), []docstore.Document{
		{ID: "t1", Fields: docstore.Fields{"fullName": "Ana Cruz", "status": "approved", "phone": int64(9171234567)}},
		{ID: "t2", Fields: docstore.Fields{"fullName": "Ben Reyes", "status": "approved", "phone": "0917"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "9171234567", items[0].Display["phone"])
	assert.Equal(t, models.Text("9171234567"), items[0].Record.(*models.Technician).Phone)
	assert.Equal(t, "0917", items[1].Display["phone"])

	store := newFakeGetter()
	store.docs["technicians/t1"] = docstore.Fields{"fullName": "Ana Cruz"}
	r = New(store, bookingSpec(), 4, zap.NewNop())
	items, err = r.Resolve(context.Background(), []docstore.Document{{ID: "r1", Fields: docstore.Fields{
		"userId":       float64(7),
		"technicianId": "t1",
		"status":       map[string]any{"global": "Repairing"},
		"user":         map[string]any{"fullName": "Dana Lim", "phone": float64(9170000000)},
	}}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Dana Lim", items[0].Display["userName"])
	assert.Equal(t, "9170000000", items[0].Display["userPhone"])
	assert.Equal(t, "Ana Cruz", items[0].Display["technicianName"])
	assert.Empty(t, items[0].Record.DecodeIssues())
}

func TestResolve_CancelledContext(t *testing.T) {
	store := newFakeGetter()
	store.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	r := New(store, bookingSpec(), 4, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, []docstore.Document{{ID: "r1", Fields: docstore.Fields{"userId": "u1"}}})
		done <- err
	}()
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}
