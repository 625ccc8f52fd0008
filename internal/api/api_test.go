package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"terem/internal/api"
	"terem/internal/reference"
	"terem/internal/schema"
	"terem/internal/storage/memstore"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Тестовый стенд: полный роутер над memstore.
func testEnv(t *testing.T) (*gin.Engine, *memstore.Store) {
	t.Helper()

	author := &schema.Entity{
		Module: "shop",
		Name:   "Author",
		Fields: []schema.Field{
			{Name: "name", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "email", Type: "string", Options: map[string]string{"unique": "true"}},
		},
		Relations: []schema.Relation{
			{Name: "books", Kind: schema.HasMany, Target: "shop.Book", ForeignKey: "author_id", OnDelete: schema.OnDeleteCascade},
		},
	}
	publisher := &schema.Entity{
		Module: "shop",
		Name:   "Publisher",
		Fields: []schema.Field{
			{Name: "name", Type: "string", Options: map[string]string{"required": "true"}},
		},
		Relations: []schema.Relation{
			{Name: "books", Kind: schema.HasMany, Target: "shop.Book", ForeignKey: "publisher_id", OnDelete: schema.OnDeleteRestrict},
		},
	}
	book := &schema.Entity{
		Module: "shop",
		Name:   "Book",
		Fields: []schema.Field{
			{Name: "title", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "author_id", Type: "ref", RefTarget: "shop.Author", Options: map[string]string{"required": "true"}},
			{Name: "publisher_id", Type: "ref", RefTarget: "shop.Publisher"},
			{Name: "genre", Type: "enum", Enum: []string{"fiction", "nonfiction"}, Options: map[string]string{"default": "fiction"}},
			{Name: "price", Type: "money"},
			{Name: "pages", Type: "int"},
			{Name: "isbn", Type: "string", Options: map[string]string{"readonly": "true"}},
		},
		SoftDelete: &schema.SoftDelete{Field: "deleted_at", QueryFlags: []string{"_with_deleted", "_only_deleted"}},
		Constraints: schema.Constraints{
			Unique: [][]string{{"title", "author_id"}},
		},
		Relations: []schema.Relation{
			{Name: "author", Kind: schema.BelongsTo, Target: "shop.Author", ForeignKey: "author_id"},
		},
	}
	rate := &schema.Entity{
		Module:     "fx",
		Name:       "Rate",
		PrimaryKey: []string{"base", "quote"},
		Fields: []schema.Field{
			{Name: "base", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "quote", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "value", Type: "float", Options: map[string]string{"required": "true"}},
		},
	}

	ents := map[string]*schema.Entity{}
	for _, e := range []*schema.Entity{author, publisher, book, rate} {
		ents[e.FQN()] = e
	}
	reg := schema.NewRegistry(ents)
	require.Empty(t, reg.Lint())

	enums := map[string]reference.EnumDirectory{
		"genres": {Name: "genres", Items: []reference.EnumItem{
			{Code: "fiction", Name: "Художественная", Order: 1},
			{Code: "nonfiction", Name: "Нон-фикшн", Order: 2},
		}},
	}

	st := memstore.New()
	return api.NewRouter(api.NewServer(reg, st, enums)), st
}

func do(t *testing.T, r *gin.Engine, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// errorCodes вытаскивает коды из {"errors":[...]}
func errorCodes(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var body struct {
		Errors []api.FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	out := make([]string, 0, len(body.Errors))
	for _, e := range body.Errors {
		out = append(out, e.Code)
	}
	return out
}

func createAuthor(t *testing.T, r *gin.Engine, name, email string) map[string]any {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/shop/author", map[string]any{"name": name, "email": email}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeMap(t, w)
}

func createBook(t *testing.T, r *gin.Engine, fields map[string]any) map[string]any {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/shop/book", fields, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeMap(t, w)
}

func countOf(t *testing.T, r *gin.Engine, module, entity string) int {
	t.Helper()
	w := do(t, r, http.MethodGet, "/api/"+module+"/"+entity+"/count", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	return int(decodeMap(t, w)["total"].(float64))
}
