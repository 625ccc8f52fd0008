package sqlstore

import (
	"testing"

	"terem/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ddlRegistry() *schema.Registry {
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
	book := &schema.Entity{
		Module: "shop",
		Name:   "Book",
		Fields: []schema.Field{
			{Name: "title", Type: "string", Options: map[string]string{"required": "true"}},
			{Name: "author_id", Type: "ref", RefTarget: "shop.Author", Options: map[string]string{"required": "true"}},
			{Name: "price", Type: "money"},
			{Name: "tags", Type: "array", ElemType: "string"},
		},
		SoftDelete: &schema.SoftDelete{Field: "deleted_at"},
		Constraints: schema.Constraints{
			Unique: [][]string{{"title", "author_id"}},
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
	return schema.NewRegistry(map[string]*schema.Entity{
		author.FQN(): author, book.FQN(): book, rate.FQN(): rate,
	})
}

func TestGenerateDDLTables(t *testing.T) {
	ddl, err := GenerateDDL(ddlRegistry())
	require.NoError(t, err)

	tables := ddl["000_schemas_and_tables"]
	require.NotEmpty(t, tables)

	assert.Contains(t, tables, `create schema if not exists "shop";`)
	assert.Contains(t, tables, `create schema if not exists "fx";`)
	assert.Contains(t, tables, `create table if not exists "shop"."authors"`)
	assert.Contains(t, tables, `create table if not exists "shop"."books"`)

	// системные колонки и дефолтный PK
	assert.Contains(t, tables, `"id" text primary key`)
	assert.Contains(t, tables, `"version" bigint not null`)

	// типы и nullability по схеме
	assert.Contains(t, tables, `"title" text not null`)
	assert.Contains(t, tables, `"price" numeric(18,2) null`)
	assert.Contains(t, tables, `"tags" jsonb null`)
	assert.Contains(t, tables, `"deleted_at" timestamp with time zone null`)
}

func TestGenerateDDLCompositePK(t *testing.T) {
	ddl, err := GenerateDDL(ddlRegistry())
	require.NoError(t, err)

	tables := ddl["000_schemas_and_tables"]
	// у таблицы с явным PK нет суррогатного id, но есть constraint
	assert.Contains(t, tables, `alter table "fx"."rates" add constraint rate_pk primary key ("base", "quote");`)
}

func TestGenerateDDLUniqueIndexes(t *testing.T) {
	ddl, err := GenerateDDL(ddlRegistry())
	require.NoError(t, err)

	tables := ddl["000_schemas_and_tables"]
	assert.Contains(t, tables, `create unique index if not exists author_email_uq on "shop"."authors"("email");`)
	assert.Contains(t, tables, `create unique index if not exists "book_title_author_id_uq" on "shop"."books"("title", "author_id");`)
}

func TestGenerateDDLForeignKeys(t *testing.T) {
	ddl, err := GenerateDDL(ddlRegistry())
	require.NoError(t, err)

	fks := ddl["200_foreign_keys"]
	require.NotEmpty(t, fks)
	// FK вешается на дочернюю таблицу, политика — из on_delete связи
	assert.Contains(t, fks, `alter table "shop"."books" add constraint book_author_id_fk foreign key ("author_id") references "shop"."authors"("id") on delete CASCADE;`)
}

func TestGenerateDDLRejectsSystemFieldClash(t *testing.T) {
	bad := &schema.Entity{
		Module: "a",
		Name:   "Thing",
		Fields: []schema.Field{{Name: "version", Type: "int"}},
	}
	_, err := GenerateDDL(schema.NewRegistry(map[string]*schema.Entity{bad.FQN(): bad}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system column")
}

func TestGenerateDDLRejectsUnknownType(t *testing.T) {
	bad := &schema.Entity{
		Module: "a",
		Name:   "Thing",
		Fields: []schema.Field{{Name: "blob", Type: "binary"}},
	}
	_, err := GenerateDDL(schema.NewRegistry(map[string]*schema.Entity{bad.FQN(): bad}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}
