package memstore_test

import (
	"context"
	"testing"
	"time"

	"terem/internal/engine"
	"terem/internal/schema"
	"terem/internal/storage"
	"terem/internal/storage/memstore"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taskEntity() *schema.Entity {
	return &schema.Entity{
		Module: "todo",
		Name:   "Task",
		Fields: []schema.Field{
			{Name: "title", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "priority", Type: "int"},
			{Name: "done", Type: "bool"},
		},
		SoftDelete: &schema.SoftDelete{Field: "deleted_at", QueryFlags: []string{"_with_deleted", "_only_deleted"}},
	}
}

func rateEntity() *schema.Entity {
	return &schema.Entity{
		Module:     "fx",
		Name:       "Rate",
		PrimaryKey: []string{"base", "quote"},
		Fields: []schema.Field{
			{Name: "base", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "quote", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "value", Type: "float", Options: map[string]string{"required": "true"}},
		},
	}
}

func insert(t *testing.T, st *memstore.Store, model *schema.Entity, rec storage.Record) storage.Record {
	t.Helper()
	out, err := st.Insert(context.Background(), model, rec)
	require.NoError(t, err)
	return out
}

func idKey(rec storage.Record) storage.Key {
	return storage.Key{"id": rec["id"]}
}

func TestInsertSystemFields(t *testing.T) {
	st := memstore.New()
	task := taskEntity()

	rec := insert(t, st, task, storage.Record{"title": "wash the cat"})

	id, ok := rec["id"].(string)
	require.True(t, ok)
	_, err := ulid.Parse(id)
	require.NoError(t, err, "id должен быть валидным ULID")

	assert.Equal(t, int64(1), rec["version"])
	assert.Equal(t, rec["created_at"], rec["updated_at"])
	_, err = time.Parse(time.RFC3339, rec["created_at"].(string))
	require.NoError(t, err)
}

func TestInsertIDsAreMonotonic(t *testing.T) {
	st := memstore.New()
	task := taskEntity()

	a := insert(t, st, task, storage.Record{"title": "a"})
	b := insert(t, st, task, storage.Record{"title": "b"})
	assert.Less(t, a["id"].(string), b["id"].(string))
}

func TestInsertCompositePK(t *testing.T) {
	st := memstore.New()
	rate := rateEntity()

	rec := insert(t, st, rate, storage.Record{"base": "USD", "quote": "EUR", "value": 0.92})
	// при явном PK суррогатный id не генерируется
	_, hasID := rec["id"]
	assert.False(t, hasID)

	got, err := st.Find(context.Background(), rate, engine.FieldEq(rate, "base", "USD"), storage.FindOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.92, got[0]["value"])
}

func TestUpdateBumpsVersionAndWritesNull(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	task := taskEntity()

	rec := insert(t, st, task, storage.Record{"title": "old", "priority": int64(3)})

	got, err := st.Update(ctx, task, idKey(rec), storage.Record{"title": "new", "priority": nil})
	require.NoError(t, err)

	assert.Equal(t, "new", got["title"])
	// nil в патче — это явная запись null, а не «не трогать»
	v, present := got["priority"]
	require.True(t, present)
	assert.Nil(t, v)
	assert.Equal(t, int64(2), got["version"])
}

func TestUpdateMissing(t *testing.T) {
	st := memstore.New()
	task := taskEntity()

	_, err := st.Update(context.Background(), task, storage.Key{"id": "01NOPE"}, storage.Record{"title": "x"})
	var nf *engine.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestSoftDeleteLifecycle(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	task := taskEntity()

	rec := insert(t, st, task, storage.Record{"title": "doomed"})
	require.NoError(t, st.Delete(ctx, task, idKey(rec)))

	// живая выборка не видит запись
	live, err := st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, live)

	n, err := st.Count(ctx, task, engine.Predicate{}, storage.FindOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)

	// _with_deleted и _only_deleted
	all, err := st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0]["deleted_at"])

	only, err := st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{OnlyDeleted: true})
	require.NoError(t, err)
	assert.Len(t, only, 1)

	// восстановление возвращает запись в живую выборку
	restored, err := st.Restore(ctx, task, idKey(rec))
	require.NoError(t, err)
	assert.Nil(t, restored["deleted_at"])

	live, err = st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{})
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestHardDeleteWithoutSoftDelete(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	rate := rateEntity()

	insert(t, st, rate, storage.Record{"base": "USD", "quote": "EUR", "value": 0.92})
	require.NoError(t, st.Delete(ctx, rate, storage.Key{"base": "USD", "quote": "EUR"}))

	all, err := st.Find(ctx, rate, engine.Predicate{}, storage.FindOptions{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Empty(t, all)

	err = st.Delete(ctx, rate, storage.Key{"base": "USD", "quote": "EUR"})
	var nf *engine.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestRestoreWithoutSoftDelete(t *testing.T) {
	st := memstore.New()
	rate := rateEntity()

	_, err := st.Restore(context.Background(), rate, storage.Key{"base": "USD", "quote": "EUR"})
	var ve *engine.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestFindByKeysSkipsDeleted(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	task := taskEntity()

	a := insert(t, st, task, storage.Record{"title": "a"})
	b := insert(t, st, task, storage.Record{"title": "b"})
	require.NoError(t, st.Delete(ctx, task, idKey(b)))

	got, err := st.FindByKeys(ctx, task, "id", []any{a["id"], b["id"], nil})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0]["title"])
}

func TestFindSortAndPagination(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	task := taskEntity()

	insert(t, st, task, storage.Record{"title": "c", "priority": int64(1)})
	insert(t, st, task, storage.Record{"title": "a", "priority": int64(3)})
	insert(t, st, task, storage.Record{"title": "b", "priority": int64(2)})

	got, err := st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{
		Sort: []storage.SortKey{{Field: "priority", Desc: true}},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0]["title"])
	assert.Equal(t, "c", got[2]["title"])

	page, err := st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{
		Sort:   []storage.SortKey{{Field: "title"}},
		Limit:  2,
		Offset: 1,
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0]["title"])
	assert.Equal(t, "c", page[1]["title"])
}

func TestFindSortNullsPlacement(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	task := taskEntity()

	insert(t, st, task, storage.Record{"title": "x", "priority": nil})
	insert(t, st, task, storage.Record{"title": "y", "priority": int64(1)})

	got, err := st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{
		Sort: []storage.SortKey{{Field: "priority"}},
	})
	require.NoError(t, err)
	// по умолчанию null в конце
	assert.Equal(t, "y", got[0]["title"])
	assert.Nil(t, got[1]["priority"])

	got, err = st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{
		Sort:  []storage.SortKey{{Field: "priority"}},
		Nulls: "first",
	})
	require.NoError(t, err)
	assert.Nil(t, got[0]["priority"])
}

func TestFindReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	task := taskEntity()

	rec := insert(t, st, task, storage.Record{"title": "orig"})

	got, err := st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{})
	require.NoError(t, err)
	got[0]["title"] = "mutated"

	again, err := st.Find(ctx, task, engine.Predicate{}, storage.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, "orig", again[0]["title"])
	_ = rec
}

func TestFindWithPredicate(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	task := taskEntity()

	insert(t, st, task, storage.Record{"title": "high", "priority": int64(9), "done": false})
	insert(t, st, task, storage.Record{"title": "low", "priority": int64(1), "done": false})

	p, err := engine.Compile(task, []engine.FieldSpec{
		{Field: "priority", Op: engine.OpGte, Values: []string{"5"}},
	}, "")
	require.NoError(t, err)

	got, err := st.Find(ctx, task, p, storage.FindOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "high", got[0]["title"])
}
