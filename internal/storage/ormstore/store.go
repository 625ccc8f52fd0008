// Package ormstore — бэкенд над GORM. Работает по тем же таблицам, что
// и sqlstore (DDL общий), но через query builder: схемы объявляются в
// рантайме, поэтому вместо Go-структур — map-строки и db.Table(...).
package ormstore

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"terem/internal/engine"
	"terem/internal/schema"
	"terem/internal/storage"
	"terem/internal/storage/sqlstore"

	"github.com/oklog/ulid/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Store struct {
	db      *gorm.DB
	entropy *ulid.MonotonicEntropy
}

// Open подключается к Postgres через gorm-драйвер.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func New(db *gorm.DB) *Store {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Store{db: db, entropy: ulid.Monotonic(src, 0)}
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// table — "module.entities" без кавычек: имена уже в lower case
func table(model *schema.Entity) string {
	return sqlstore.SafeSchema(model.Module) + "." + sqlstore.SafeTable(model.Name)
}

// scoped строит tx с переведённым предикатом и soft-delete фильтром.
func scoped(tx *gorm.DB, model *schema.Entity, p engine.Predicate, opts storage.FindOptions) *gorm.DB {
	for _, c := range p.Conds {
		col := sqlstore.Ident(c.Field)
		switch c.Op {
		case engine.OpEq:
			tx = tx.Where(col+" = ?", sqlstore.TypedArg(c.Type, c.Values[0]))
		case engine.OpNe:
			tx = tx.Where(col+" <> ?", sqlstore.TypedArg(c.Type, c.Values[0]))
		case engine.OpGt:
			tx = tx.Where(col+" > ?", sqlstore.TypedArg(c.Type, c.Values[0]))
		case engine.OpGte:
			tx = tx.Where(col+" >= ?", sqlstore.TypedArg(c.Type, c.Values[0]))
		case engine.OpLt:
			tx = tx.Where(col+" < ?", sqlstore.TypedArg(c.Type, c.Values[0]))
		case engine.OpLte:
			tx = tx.Where(col+" <= ?", sqlstore.TypedArg(c.Type, c.Values[0]))
		case engine.OpLike:
			tx = tx.Where(col+" LIKE ?", "%"+c.Values[0]+"%")
		case engine.OpILike:
			tx = tx.Where(col+" ILIKE ?", "%"+c.Values[0]+"%")
		case engine.OpIn:
			vals := make([]any, 0, len(c.Values))
			for _, v := range c.Values {
				vals = append(vals, sqlstore.TypedArg(c.Type, v))
			}
			tx = tx.Where(col+" IN ?", vals)
		case engine.OpBetween:
			tx = tx.Where(col+" BETWEEN ? AND ?",
				sqlstore.TypedArg(c.Type, c.Values[0]), sqlstore.TypedArg(c.Type, c.Values[1]))
		case engine.OpNull:
			wantNull, _ := strconv.ParseBool(c.Values[0])
			if wantNull {
				tx = tx.Where(col + " IS NULL")
			} else {
				tx = tx.Where(col + " IS NOT NULL")
			}
		}
	}

	if p.SearchTerm != "" && len(p.SearchFields) > 0 {
		var ors []string
		var vals []any
		for _, f := range p.SearchFields {
			ors = append(ors, sqlstore.Ident(f)+" ILIKE ?")
			vals = append(vals, "%"+p.SearchTerm+"%")
		}
		tx = tx.Where(strings.Join(ors, " OR "), vals...)
	}

	if sd := model.SoftDelete; sd != nil {
		col := sqlstore.Ident(sd.Field)
		switch {
		case opts.OnlyDeleted:
			tx = tx.Where(col + " IS NOT NULL")
		case opts.IncludeDeleted:
			// без фильтра
		default:
			tx = tx.Where(col + " IS NULL")
		}
	}
	return tx
}

func orderClause(model *schema.Entity, opts storage.FindOptions) string {
	keys := opts.Sort
	if len(keys) == 0 {
		for _, pk := range model.PrimaryKeyFields() {
			keys = append(keys, storage.SortKey{Field: pk})
		}
	}
	nulls := " NULLS LAST"
	if opts.Nulls == "first" {
		nulls = " NULLS FIRST"
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		dir := " asc"
		if k.Desc {
			dir = " desc"
		}
		parts = append(parts, sqlstore.Ident(k.Field)+dir+nulls)
	}
	return strings.Join(parts, ", ")
}

func (s *Store) Find(ctx context.Context, model *schema.Entity, p engine.Predicate, opts storage.FindOptions) ([]storage.Record, error) {
	tx := scoped(s.db.WithContext(ctx).Table(table(model)), model, p, opts).
		Order(orderClause(model, opts))
	if opts.Limit > 0 {
		tx = tx.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		tx = tx.Offset(opts.Offset)
	}

	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.normalizeRows(model, rows), nil
}

func (s *Store) FindByKeys(ctx context.Context, model *schema.Entity, keyField string, values []any) ([]storage.Record, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ft := sqlstore.FieldTypeOf(model, keyField)
	vals := make([]any, 0, len(values))
	for _, v := range values {
		vals = append(vals, sqlstore.TypedArg(ft, storage.Stringify(v)))
	}

	tx := s.db.WithContext(ctx).Table(table(model)).
		Where(sqlstore.Ident(keyField)+" IN ?", vals).
		Order(orderClause(model, storage.FindOptions{}))
	if sd := model.SoftDelete; sd != nil {
		tx = tx.Where(sqlstore.Ident(sd.Field) + " IS NULL")
	}

	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.normalizeRows(model, rows), nil
}

func (s *Store) Count(ctx context.Context, model *schema.Entity, p engine.Predicate, opts storage.FindOptions) (int, error) {
	var n int64
	tx := scoped(s.db.WithContext(ctx).Table(table(model)), model, p, storage.FindOptions{IncludeDeleted: opts.IncludeDeleted, OnlyDeleted: opts.OnlyDeleted})
	if err := tx.Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) Insert(ctx context.Context, model *schema.Entity, rec storage.Record) (storage.Record, error) {
	stored := rec.Clone()
	if len(model.PrimaryKey) == 0 {
		if _, ok := stored["id"]; !ok {
			stored["id"] = s.newID()
		}
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	stored["version"] = int64(1)
	stored["created_at"] = ts
	stored["updated_at"] = ts

	row := map[string]any{}
	for _, c := range sqlstore.ColumnsOf(model) {
		if v, ok := stored[c]; ok {
			row[c] = sqlstore.BindValue(model, c, v)
		}
	}
	if err := s.db.WithContext(ctx).Table(table(model)).Create(row).Error; err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) Update(ctx context.Context, model *schema.Entity, key storage.Key, patch storage.Record) (storage.Record, error) {
	sets := map[string]any{}
	for k, v := range patch {
		sets[k] = sqlstore.BindValue(model, k, v)
	}
	sets["version"] = gorm.Expr(sqlstore.Ident("version") + " + 1")
	sets["updated_at"] = time.Now().UTC()

	tx := s.keyScope(ctx, model, key).Updates(sets)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, &engine.NotFoundError{Model: model.FQN(), Key: key.KeyString()}
	}
	return s.getByKey(ctx, model, key)
}

func (s *Store) Delete(ctx context.Context, model *schema.Entity, key storage.Key) error {
	var tx *gorm.DB
	if sd := model.SoftDelete; sd != nil {
		tx = s.keyScope(ctx, model, key).Updates(map[string]any{
			sd.Field:     time.Now().UTC(),
			"version":    gorm.Expr(sqlstore.Ident("version") + " + 1"),
			"updated_at": time.Now().UTC(),
		})
	} else {
		tx = s.keyScope(ctx, model, key).Delete(nil)
	}
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return &engine.NotFoundError{Model: model.FQN(), Key: key.KeyString()}
	}
	return nil
}

// Restore снимает отметку мягкого удаления.
func (s *Store) Restore(ctx context.Context, model *schema.Entity, key storage.Key) (storage.Record, error) {
	if model.SoftDelete == nil {
		return nil, &engine.ValidationError{Message: "entity has no soft delete"}
	}
	tx := s.keyScope(ctx, model, key).Updates(map[string]any{
		model.SoftDelete.Field: nil,
		"version":              gorm.Expr(sqlstore.Ident("version") + " + 1"),
		"updated_at":           time.Now().UTC(),
	})
	if tx.Error != nil {
		return nil, tx.Error
	}
	return s.getByKey(ctx, model, key)
}

// ==== Внутреннее ====

func (s *Store) keyScope(ctx context.Context, model *schema.Entity, key storage.Key) *gorm.DB {
	tx := s.db.WithContext(ctx).Table(table(model))
	for f, v := range key {
		tx = tx.Where(sqlstore.Ident(f)+" = ?", sqlstore.BindValue(model, f, v))
	}
	return tx
}

func (s *Store) getByKey(ctx context.Context, model *schema.Entity, key storage.Key) (storage.Record, error) {
	var rows []map[string]any
	if err := s.keyScope(ctx, model, key).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &engine.NotFoundError{Model: model.FQN(), Key: key.KeyString()}
	}
	return s.normalizeRows(model, rows)[0], nil
}

func (s *Store) normalizeRows(model *schema.Entity, rows []map[string]any) []storage.Record {
	out := make([]storage.Record, 0, len(rows))
	for _, row := range rows {
		rec := make(storage.Record, len(row))
		for k, v := range row {
			rec[k] = sqlstore.NormalizeScanned(sqlstore.FieldTypeOf(model, k), v)
		}
		out = append(out, rec)
	}
	return out
}
