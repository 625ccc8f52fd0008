package engine_test

import (
	"context"
	"testing"

	"terem/internal/engine"
	"terem/internal/schema"
	"terem/internal/storage"
	"terem/internal/storage/memstore"

	"github.com/stretchr/testify/require"
)

// Тестовые схемы собираются напрямую, без парсера DSL — он покрыт
// своими тестами в internal/schema.

func authorEntity() *schema.Entity {
	return &schema.Entity{
		Module: "shop",
		Name:   "Author",
		Fields: []schema.Field{
			{Name: "name", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "email", Type: "string", Options: map[string]string{"unique": "true"}},
			{Name: "country", Type: "string"},
		},
		Relations: []schema.Relation{
			{Name: "books", Kind: schema.HasMany, Target: "shop.Book", ForeignKey: "author_id", OnDelete: schema.OnDeleteCascade},
		},
	}
}

func publisherEntity() *schema.Entity {
	return &schema.Entity{
		Module: "shop",
		Name:   "Publisher",
		Fields: []schema.Field{
			{Name: "name", Type: "string", Options: map[string]string{"required": "true"}},
		},
		Relations: []schema.Relation{
			{Name: "books", Kind: schema.HasMany, Target: "shop.Book", ForeignKey: "publisher_id", OnDelete: schema.OnDeleteRestrict},
		},
	}
}

func bookEntity() *schema.Entity {
	return &schema.Entity{
		Module: "shop",
		Name:   "Book",
		Fields: []schema.Field{
			{Name: "title", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "author_id", Type: "ref", RefTarget: "shop.Author", Options: map[string]string{"required": "true"}},
			{Name: "publisher_id", Type: "ref", RefTarget: "shop.Publisher"},
			{Name: "genre", Type: "enum", Enum: []string{"fiction", "nonfiction", "poetry"}},
			{Name: "price", Type: "money"},
			{Name: "pages", Type: "int"},
			{Name: "published_on", Type: "date"},
		},
		SoftDelete: &schema.SoftDelete{Field: "deleted_at", QueryFlags: []string{"_with_deleted", "_only_deleted"}},
		Relations: []schema.Relation{
			{Name: "author", Kind: schema.BelongsTo, Target: "shop.Author", ForeignKey: "author_id"},
			{Name: "reviews", Kind: schema.HasMany, Target: "shop.Review", ForeignKey: "book_id", OnDelete: schema.OnDeleteCascade},
		},
	}
}

func reviewEntity() *schema.Entity {
	return &schema.Entity{
		Module: "shop",
		Name:   "Review",
		Fields: []schema.Field{
			{Name: "book_id", Type: "ref", RefTarget: "shop.Book", Options: map[string]string{"required": "true"}},
			{Name: "rating", Type: "int", Options: map[string]string{"required": "true"}},
			{Name: "body", Type: "string"},
		},
	}
}

func teamEntity() *schema.Entity {
	return &schema.Entity{
		Module: "crm",
		Name:   "Team",
		Fields: []schema.Field{
			{Name: "name", Type: "string", Options: map[string]string{"required": "true"}},
		},
		Relations: []schema.Relation{
			{Name: "members", Kind: schema.HasMany, Target: "crm.Contact", ForeignKey: "team_id", OnDelete: schema.OnDeleteSetNull},
		},
	}
}

func contactEntity() *schema.Entity {
	return &schema.Entity{
		Module: "crm",
		Name:   "Contact",
		Fields: []schema.Field{
			{Name: "name", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "team_id", Type: "ref", RefTarget: "crm.Team"},
		},
	}
}

func testRegistry() *schema.Registry {
	ents := map[string]*schema.Entity{}
	for _, e := range []*schema.Entity{
		authorEntity(), publisherEntity(), bookEntity(), reviewEntity(),
		teamEntity(), contactEntity(),
	} {
		ents[e.FQN()] = e
	}
	return schema.NewRegistry(ents)
}

func mustInsert(t *testing.T, st engine.Adapter, model *schema.Entity, rec storage.Record) storage.Record {
	t.Helper()
	out, err := st.Insert(context.Background(), model, rec)
	require.NoError(t, err)
	return out
}

// countingAdapter считает вызовы адаптера — для проверки отсутствия N+1.
type countingAdapter struct {
	*memstore.Store
	findByKeysCalls int
	findCalls       int
}

func (c *countingAdapter) FindByKeys(ctx context.Context, model *schema.Entity, keyField string, values []any) ([]storage.Record, error) {
	c.findByKeysCalls++
	return c.Store.FindByKeys(ctx, model, keyField, values)
}

func (c *countingAdapter) Find(ctx context.Context, model *schema.Entity, p engine.Predicate, opts storage.FindOptions) ([]storage.Record, error) {
	c.findCalls++
	return c.Store.Find(ctx, model, p, opts)
}
