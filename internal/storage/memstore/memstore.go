// Package memstore — in-memory бэкенд: map под RWMutex, ULID-ключи.
// Фильтрация выполняется in-process через Predicate.Match, так что
// поведение неотличимо от SQL/ORM-бэкендов.
package memstore

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"terem/internal/engine"
	"terem/internal/schema"
	"terem/internal/storage"

	"github.com/oklog/ulid/v2"
)

type Store struct {
	mu      sync.RWMutex
	data    map[string]map[string]storage.Record // FQN -> keyString -> запись
	entropy io.Reader
}

func New() *Store {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Store{
		data:    make(map[string]map[string]storage.Record),
		entropy: ulid.Monotonic(src, 0),
	}
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// isDeleted — запись мягко удалена (поле-отметка непустое)
func isDeleted(model *schema.Entity, rec storage.Record) bool {
	return model.SoftDelete != nil && rec[model.SoftDelete.Field] != nil
}

func visible(model *schema.Entity, rec storage.Record, opts storage.FindOptions) bool {
	if model.SoftDelete == nil {
		return true
	}
	del := isDeleted(model, rec)
	if opts.OnlyDeleted {
		return del
	}
	if opts.IncludeDeleted {
		return true
	}
	return !del
}

func keyStringOf(model *schema.Entity, rec storage.Record) string {
	key := make(storage.Key)
	for _, f := range model.PrimaryKeyFields() {
		key[f] = rec[f]
	}
	return key.KeyString()
}

// ==== Контракт адаптера ====

func (s *Store) Find(ctx context.Context, model *schema.Entity, p engine.Predicate, opts storage.FindOptions) ([]storage.Record, error) {
	s.mu.RLock()
	all := make([]storage.Record, 0, len(s.data[model.FQN()]))
	for _, rec := range s.data[model.FQN()] {
		if visible(model, rec, opts) && p.Match(rec) {
			all = append(all, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sortRecords(all, model, opts)

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return all[start:end], nil
}

func (s *Store) FindByKeys(ctx context.Context, model *schema.Entity, keyField string, values []any) ([]storage.Record, error) {
	want := make(map[string]bool, len(values))
	for _, v := range values {
		if v != nil {
			want[storage.Stringify(v)] = true
		}
	}

	s.mu.RLock()
	var out []storage.Record
	for _, rec := range s.data[model.FQN()] {
		if isDeleted(model, rec) {
			continue
		}
		v := rec[keyField]
		if v == nil {
			continue
		}
		if want[storage.Stringify(v)] {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	// стабильный порядок для детерминизма между вызовами
	sortRecords(out, model, storage.FindOptions{})
	return out, nil
}

func (s *Store) Count(ctx context.Context, model *schema.Entity, p engine.Predicate, opts storage.FindOptions) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.data[model.FQN()] {
		if visible(model, rec, opts) && p.Match(rec) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Insert(ctx context.Context, model *schema.Entity, rec storage.Record) (storage.Record, error) {
	stored := rec.Clone()

	// сгенерированный PK только для дефолтного одиночного "id"
	if len(model.PrimaryKey) == 0 {
		if _, ok := stored["id"]; !ok {
			stored["id"] = s.newID()
		}
	}
	ts := now()
	stored["version"] = int64(1)
	stored["created_at"] = ts
	stored["updated_at"] = ts

	fqn := model.FQN()
	ks := keyStringOf(model, stored)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[fqn] == nil {
		s.data[fqn] = make(map[string]storage.Record)
	}
	s.data[fqn][ks] = stored
	return stored.Clone(), nil
}

func (s *Store) Update(ctx context.Context, model *schema.Entity, key storage.Key, patch storage.Record) (storage.Record, error) {
	fqn := model.FQN()
	ks := key.KeyString()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[fqn][ks]
	if !ok {
		return nil, &engine.NotFoundError{Model: fqn, Key: ks}
	}
	for k, v := range patch {
		rec[k] = v // nil в патче записывает null
	}
	if ver, ok := rec["version"].(int64); ok {
		rec["version"] = ver + 1
	}
	rec["updated_at"] = now()
	return rec.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, model *schema.Entity, key storage.Key) error {
	fqn := model.FQN()
	ks := key.KeyString()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[fqn][ks]
	if !ok {
		return &engine.NotFoundError{Model: fqn, Key: ks}
	}
	if model.SoftDelete != nil {
		// удаление = запись отметки, решает дескриптор модели
		rec[model.SoftDelete.Field] = now()
		if ver, ok := rec["version"].(int64); ok {
			rec["version"] = ver + 1
		}
		rec["updated_at"] = now()
		return nil
	}
	delete(s.data[fqn], ks)
	return nil
}

// Restore снимает отметку мягкого удаления (вне движкового контракта,
// используется HTTP-слоем для /restore).
func (s *Store) Restore(ctx context.Context, model *schema.Entity, key storage.Key) (storage.Record, error) {
	if model.SoftDelete == nil {
		return nil, &engine.ValidationError{Field: "", Message: "entity has no soft delete"}
	}
	fqn := model.FQN()
	ks := key.KeyString()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[fqn][ks]
	if !ok {
		return nil, &engine.NotFoundError{Model: fqn, Key: ks}
	}
	if rec[model.SoftDelete.Field] != nil {
		rec[model.SoftDelete.Field] = nil
		if ver, ok := rec["version"].(int64); ok {
			rec["version"] = ver + 1
		}
		rec["updated_at"] = now()
	}
	return rec.Clone(), nil
}
