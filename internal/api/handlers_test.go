package api_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	r, _ := testEnv(t)

	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	assert.NotEmpty(t, a["id"])
	assert.Equal(t, float64(1), a["version"])
	assert.NotEmpty(t, a["created_at"])

	w := do(t, r, http.MethodGet, "/api/shop/author/"+a["id"].(string), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))
	assert.Equal(t, "Ivan", decodeMap(t, w)["name"])
}

func TestCreateValidation(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")

	// нет required-поля
	w := do(t, r, http.MethodPost, "/api/shop/author", map[string]any{"email": "x@y.z"}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorCodes(t, w), "required")

	// неверный enum
	w = do(t, r, http.MethodPost, "/api/shop/book", map[string]any{
		"title": "B", "author_id": a["id"], "genre": "horror",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorCodes(t, w), "type_mismatch")

	// несуществующая ссылка — конфликт целостности
	w = do(t, r, http.MethodPost, "/api/shop/book", map[string]any{
		"title": "B", "author_id": "01GHOST",
	}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, errorCodes(t, w), "ref_not_found")

	// нецелое в int-поле
	w = do(t, r, http.MethodPost, "/api/shop/book", map[string]any{
		"title": "B", "author_id": a["id"], "pages": 12.5,
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorCodes(t, w), "type_mismatch")

	// системные поля от клиента запрещены
	w = do(t, r, http.MethodPost, "/api/shop/author", map[string]any{
		"name": "X", "created_at": "2020-01-01T00:00:00Z",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorCodes(t, w), "readonly_field")
}

func TestCreateAppliesDefaults(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")

	b := createBook(t, r, map[string]any{"title": "B1", "author_id": a["id"]})
	assert.Equal(t, "fiction", b["genre"])
}

func TestUniqueViolation(t *testing.T) {
	r, _ := testEnv(t)
	createAuthor(t, r, "Ivan", "same@example.com")

	w := do(t, r, http.MethodPost, "/api/shop/author", map[string]any{
		"name": "Clone", "email": "same@example.com",
	}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, errorCodes(t, w), "unique_violation")
}

func TestCompositeUniqueViolation(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	createBook(t, r, map[string]any{"title": "Same", "author_id": a["id"]})

	w := do(t, r, http.MethodPost, "/api/shop/book", map[string]any{
		"title": "Same", "author_id": a["id"],
	}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, errorCodes(t, w), "unique_violation")
}

func TestListFilterSortAndTotal(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	createBook(t, r, map[string]any{"title": "Cheap", "author_id": a["id"], "price": 5})
	createBook(t, r, map[string]any{"title": "Mid", "author_id": a["id"], "price": 25})
	createBook(t, r, map[string]any{"title": "Dear", "author_id": a["id"], "price": 90})

	w := do(t, r, http.MethodGet, "/api/shop/book?price__gte=10&_sort=-price", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-Total-Count"))

	got := decodeList(t, w)
	require.Len(t, got, 2)
	assert.Equal(t, "Dear", got[0]["title"])
	assert.Equal(t, "Mid", got[1]["title"])

	// пагинация не влияет на total
	w = do(t, r, http.MethodGet, "/api/shop/book?_sort=title&_limit=1&_offset=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-Total-Count"))
	got = decodeList(t, w)
	require.Len(t, got, 1)
	assert.Equal(t, "Dear", got[0]["title"])
}

func TestListUnknownFilterField(t *testing.T) {
	r, _ := testEnv(t)

	w := do(t, r, http.MethodGet, "/api/shop/book?weight__gte=1", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorCodes(t, w), "filter_invalid")
}

func TestListInclude(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	createBook(t, r, map[string]any{"title": "B1", "author_id": a["id"]})

	w := do(t, r, http.MethodGet, "/api/shop/book?_include=author", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := decodeList(t, w)
	require.Len(t, got, 1)
	parent, ok := got[0]["author"].(map[string]any)
	require.True(t, ok, "author должен быть вложенным объектом")
	assert.Equal(t, "Ivan", parent["name"])
}

func TestPatchVersionControl(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	id := a["id"].(string)

	// без версии — конфликт
	w := do(t, r, http.MethodPatch, "/api/shop/author/"+id, map[string]any{"name": "New"}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, errorCodes(t, w), "version_conflict")

	// If-Match с верной версией
	w = do(t, r, http.MethodPatch, "/api/shop/author/"+id, map[string]any{"name": "New"},
		map[string]string{"If-Match": `"1"`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	upd := decodeMap(t, w)
	assert.Equal(t, "New", upd["name"])
	assert.Equal(t, float64(2), upd["version"])

	// устаревшая версия в теле
	w = do(t, r, http.MethodPatch, "/api/shop/author/"+id, map[string]any{"name": "Stale", "version": 1}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestPutReplacesAbsentWithNull(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	id := a["id"].(string)

	w := do(t, r, http.MethodPut, "/api/shop/author/"+id, map[string]any{"name": "Ivan"},
		map[string]string{"If-Match": `"1"`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	upd := decodeMap(t, w)
	// email не прислан — PUT записывает null
	v, present := upd["email"]
	require.True(t, present)
	assert.Nil(t, v)
}

func TestPatchReadonlyField(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	b := createBook(t, r, map[string]any{"title": "B1", "author_id": a["id"], "isbn": "123-456"})

	w := do(t, r, http.MethodPatch, "/api/shop/book/"+b["id"].(string),
		map[string]any{"isbn": "999"}, map[string]string{"If-Match": `"1"`})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorCodes(t, w), "readonly_field")
}

func TestDeleteCascadeSummary(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	createBook(t, r, map[string]any{"title": "B1", "author_id": a["id"]})
	createBook(t, r, map[string]any{"title": "B2", "author_id": a["id"]})

	w := do(t, r, http.MethodDelete, "/api/shop/author/"+a["id"].(string), nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeMap(t, w)
	deleted := body["deleted"].(map[string]any)
	assert.Equal(t, float64(2), deleted["shop.Author.books"])

	assert.Zero(t, countOf(t, r, "shop", "book"))
}

func TestDeleteWithoutDependents(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Lone", "lone@example.com")

	w := do(t, r, http.MethodDelete, "/api/shop/author/"+a["id"].(string), nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteRestrict(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")

	w := do(t, r, http.MethodPost, "/api/shop/publisher", map[string]any{"name": "Acme"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	p := decodeMap(t, w)
	createBook(t, r, map[string]any{"title": "B1", "author_id": a["id"], "publisher_id": p["id"]})

	w = do(t, r, http.MethodDelete, "/api/shop/publisher/"+p["id"].(string), nil, nil)
	require.Equal(t, http.StatusConflict, w.Code)

	body := decodeMap(t, w)
	assert.Equal(t, "books", body["relation"])
	assert.Equal(t, float64(1), body["dependents"])

	// издатель жив
	assert.Equal(t, 1, countOf(t, r, "shop", "publisher"))
}

func TestSoftDeleteAndRestore(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	b := createBook(t, r, map[string]any{"title": "B1", "author_id": a["id"]})
	id := b["id"].(string)

	w := do(t, r, http.MethodDelete, "/api/shop/book/"+id, nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// живая выборка запись не видит
	w = do(t, r, http.MethodGet, "/api/shop/book/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/api/shop/book?_only_deleted=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeList(t, w), 1)

	// восстановление
	w = do(t, r, http.MethodPost, "/api/shop/book/"+id+"/restore", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	restored := decodeMap(t, w)
	assert.Nil(t, restored["deleted_at"])

	w = do(t, r, http.MethodGet, "/api/shop/book/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListTotalCountHonorsDeletedFlags(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")
	createBook(t, r, map[string]any{"title": "B1", "author_id": a["id"]})
	createBook(t, r, map[string]any{"title": "B2", "author_id": a["id"]})
	gone := createBook(t, r, map[string]any{"title": "B3", "author_id": a["id"]})

	w := do(t, r, http.MethodDelete, "/api/shop/book/"+gone["id"].(string), nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// total везде совпадает с набором записей под теми же флагами видимости
	w = do(t, r, http.MethodGet, "/api/shop/book", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeList(t, w), 2)
	assert.Equal(t, "2", w.Header().Get("X-Total-Count"))

	w = do(t, r, http.MethodGet, "/api/shop/book?_only_deleted=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeList(t, w), 1)
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))

	w = do(t, r, http.MethodGet, "/api/shop/book?_with_deleted=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeList(t, w), 3)
	assert.Equal(t, "3", w.Header().Get("X-Total-Count"))

	// и эндпоинт /count тоже
	w = do(t, r, http.MethodGet, "/api/shop/book/count?_only_deleted=1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeMap(t, w)["total"])
}

func TestRestoreWithoutSoftDelete(t *testing.T) {
	r, _ := testEnv(t)
	a := createAuthor(t, r, "Ivan", "ivan@example.com")

	w := do(t, r, http.MethodPost, "/api/shop/author/"+a["id"].(string)+"/restore", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompositePKNotAddressable(t *testing.T) {
	r, _ := testEnv(t)

	w := do(t, r, http.MethodPost, "/api/fx/rate", map[string]any{
		"base": "USD", "quote": "EUR", "value": 0.92,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// создание без PK-полей — ошибка
	w = do(t, r, http.MethodPost, "/api/fx/rate", map[string]any{"value": 1.0}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorCodes(t, w), "required")

	// по id не адресуется
	w = do(t, r, http.MethodGet, "/api/fx/rate/USD", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// коллекционные маршруты работают
	w = do(t, r, http.MethodGet, "/api/fx/rate?base=USD", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeList(t, w), 1)
}

func TestEntityNotFound(t *testing.T) {
	r, _ := testEnv(t)
	w := do(t, r, http.MethodGet, "/api/shop/unicorn", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLookup(t *testing.T) {
	r, _ := testEnv(t)
	createAuthor(t, r, "Ivan Petrov", "ivan@example.com")
	createAuthor(t, r, "Anna Koval", "anna@example.com")

	w := do(t, r, http.MethodGet, "/api/meta/lookup/shop/author?q=iva", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	rows := decodeList(t, w)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ivan Petrov", rows[0]["label"])
	assert.NotEmpty(t, rows[0]["id"])
}
