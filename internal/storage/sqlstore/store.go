// Package sqlstore — бэкенд над database/sql (драйвер pgx).
// SQL собирается вручную, как и DDL: параметризованные запросы,
// квотированные идентификаторы, никакой конкатенации значений.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"terem/internal/engine"
	"terem/internal/schema"
	"terem/internal/storage"

	"github.com/oklog/ulid/v2"
)

type Store struct {
	db      *sql.DB
	entropy io.Reader
}

func New(db *sql.DB) *Store {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Store{db: db, entropy: ulid.Monotonic(src, 0)}
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Store) Find(ctx context.Context, model *schema.Entity, p engine.Predicate, opts storage.FindOptions) ([]storage.Record, error) {
	cols := ColumnsOf(model)
	a := &args{}

	frags := whereClause(p, a)
	if sd := softDeleteClause(model, opts); sd != "" {
		frags = append(frags, sd)
	}

	q := fmt.Sprintf("select %s from %s", selectList(cols), TableFQN(model))
	if len(frags) > 0 {
		q += " where " + strings.Join(frags, " and ")
	}
	q += orderBy(model, opts)
	if opts.Limit > 0 {
		q += fmt.Sprintf(" limit %d", opts.Limit)
	}
	if opts.Offset > 0 {
		q += fmt.Sprintf(" offset %d", opts.Offset)
	}

	return s.queryRecords(ctx, model, cols, q, a.vals)
}

func (s *Store) FindByKeys(ctx context.Context, model *schema.Entity, keyField string, values []any) ([]storage.Record, error) {
	if len(values) == 0 {
		return nil, nil
	}
	cols := ColumnsOf(model)
	a := &args{}

	ph := make([]string, 0, len(values))
	ft := FieldTypeOf(model, keyField)
	for _, v := range values {
		ph = append(ph, a.add(TypedArg(ft, storage.Stringify(v))))
	}
	frags := []string{fmt.Sprintf("%s IN (%s)", Ident(keyField), strings.Join(ph, ", "))}
	if sd := softDeleteClause(model, storage.FindOptions{}); sd != "" {
		frags = append(frags, sd)
	}

	q := fmt.Sprintf("select %s from %s where %s%s",
		selectList(cols), TableFQN(model), strings.Join(frags, " and "), orderBy(model, storage.FindOptions{}))
	return s.queryRecords(ctx, model, cols, q, a.vals)
}

func (s *Store) Count(ctx context.Context, model *schema.Entity, p engine.Predicate, opts storage.FindOptions) (int, error) {
	a := &args{}
	frags := whereClause(p, a)
	if sd := softDeleteClause(model, opts); sd != "" {
		frags = append(frags, sd)
	}
	q := "select count(*) from " + TableFQN(model)
	if len(frags) > 0 {
		q += " where " + strings.Join(frags, " and ")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, a.vals...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
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

	cols := ColumnsOf(model)
	a := &args{}
	names := make([]string, 0, len(cols))
	ph := make([]string, 0, len(cols))
	for _, c := range cols {
		v, ok := stored[c]
		if !ok {
			continue
		}
		names = append(names, Ident(c))
		ph = append(ph, a.add(BindValue(model, c, v)))
	}

	q := fmt.Sprintf("insert into %s (%s) values (%s)",
		TableFQN(model), strings.Join(names, ", "), strings.Join(ph, ", "))
	if _, err := s.db.ExecContext(ctx, q, a.vals...); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) Update(ctx context.Context, model *schema.Entity, key storage.Key, patch storage.Record) (storage.Record, error) {
	a := &args{}
	var sets []string
	for k, v := range patch {
		sets = append(sets, fmt.Sprintf("%s = %s", Ident(k), a.add(BindValue(model, k, v))))
	}
	sets = append(sets, Ident("version")+" = "+Ident("version")+" + 1")
	sets = append(sets, fmt.Sprintf("%s = %s", Ident("updated_at"), a.add(time.Now().UTC())))

	where := keyWhere(model, key, a)
	q := fmt.Sprintf("update %s set %s where %s", TableFQN(model), strings.Join(sets, ", "), where)

	res, err := s.db.ExecContext(ctx, q, a.vals...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &engine.NotFoundError{Model: model.FQN(), Key: key.KeyString()}
	}
	return s.getByKey(ctx, model, key)
}

func (s *Store) Delete(ctx context.Context, model *schema.Entity, key storage.Key) error {
	a := &args{}
	var q string
	if model.SoftDelete != nil {
		// удаление = запись отметки
		q = fmt.Sprintf("update %s set %s = %s, %s = %s + 1, %s = %s where %s",
			TableFQN(model),
			Ident(model.SoftDelete.Field), a.add(time.Now().UTC()),
			Ident("version"), Ident("version"),
			Ident("updated_at"), a.add(time.Now().UTC()),
			keyWhere(model, key, a))
	} else {
		q = fmt.Sprintf("delete from %s where %s", TableFQN(model), keyWhere(model, key, a))
	}
	res, err := s.db.ExecContext(ctx, q, a.vals...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &engine.NotFoundError{Model: model.FQN(), Key: key.KeyString()}
	}
	return nil
}

// Restore снимает отметку мягкого удаления.
func (s *Store) Restore(ctx context.Context, model *schema.Entity, key storage.Key) (storage.Record, error) {
	if model.SoftDelete == nil {
		return nil, &engine.ValidationError{Message: "entity has no soft delete"}
	}
	a := &args{}
	q := fmt.Sprintf("update %s set %s = null, %s = %s + 1, %s = %s where %s",
		TableFQN(model),
		Ident(model.SoftDelete.Field),
		Ident("version"), Ident("version"),
		Ident("updated_at"), a.add(time.Now().UTC()),
		keyWhere(model, key, a))
	if _, err := s.db.ExecContext(ctx, q, a.vals...); err != nil {
		return nil, err
	}
	return s.getByKey(ctx, model, key)
}

// ==== Внутреннее ====

func orderBy(model *schema.Entity, opts storage.FindOptions) string {
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
		parts = append(parts, Ident(k.Field)+dir+nulls)
	}
	return " order by " + strings.Join(parts, ", ")
}

func keyWhere(model *schema.Entity, key storage.Key, a *args) string {
	var frags []string
	for f, v := range key {
		frags = append(frags, fmt.Sprintf("%s = %s", Ident(f), a.add(BindValue(model, f, v))))
	}
	return strings.Join(frags, " and ")
}

func (s *Store) getByKey(ctx context.Context, model *schema.Entity, key storage.Key) (storage.Record, error) {
	cols := ColumnsOf(model)
	a := &args{}
	q := fmt.Sprintf("select %s from %s where %s",
		selectList(cols), TableFQN(model), keyWhere(model, key, a))
	recs, err := s.queryRecords(ctx, model, cols, q, a.vals)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &engine.NotFoundError{Model: model.FQN(), Key: key.KeyString()}
	}
	return recs[0], nil
}

func (s *Store) queryRecords(ctx context.Context, model *schema.Entity, cols []string, q string, vals []any) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, vals...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(storage.Record, len(cols))
		for i, c := range cols {
			rec[c] = NormalizeScanned(FieldTypeOf(model, c), raw[i])
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
