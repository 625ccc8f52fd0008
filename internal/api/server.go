package api

import (
	"context"
	"strings"
	"sync"

	"terem/internal/engine"
	"terem/internal/reference"
	"terem/internal/schema"
	"terem/internal/storage"
)

// Restorer — опциональная способность адаптера снимать отметку
// мягкого удаления. Есть у всех трёх бэкендов.
type Restorer interface {
	Restore(ctx context.Context, model *schema.Entity, key storage.Key) (storage.Record, error)
}

// Server держит реестр схем, адаптер хранилища и справочники.
// Реестр меняется только целиком (admin reload), поэтому RWMutex.
type Server struct {
	mu    sync.RWMutex
	reg   *schema.Registry
	st    engine.Adapter
	enums map[string]reference.EnumDirectory

	// корни для admin reload
	DSLRoot   string
	EnumsRoot string
}

func NewServer(reg *schema.Registry, st engine.Adapter, enums map[string]reference.EnumDirectory) *Server {
	return &Server{reg: reg, st: st, enums: enums}
}

func (s *Server) registry() *schema.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg
}

// entityOf разрешает пару path-параметров в сущность.
// Пустой module допустим, если имя уникально по всем модулям.
func (s *Server) entityOf(module, name string) (*schema.Entity, bool) {
	reg := s.registry()
	fqn, ok := reg.Normalize(strings.TrimSpace(module), strings.TrimSpace(name))
	if !ok {
		return nil, false
	}
	return reg.Get(fqn)
}

// keyFromID строит ключ записи из path-параметра :id.
// Составные первичные ключи через REST-путь не адресуются.
func keyFromID(model *schema.Entity, id string) (storage.Key, bool) {
	pk := model.PrimaryKeyFields()
	if len(pk) != 1 {
		return nil, false
	}
	return storage.Key{pk[0]: id}, true
}

// getLive достаёт живую запись по id (либо только удалённую — для restore).
func (s *Server) getLive(ctx context.Context, model *schema.Entity, id string, onlyDeleted bool) (storage.Record, error) {
	key, ok := keyFromID(model, id)
	if !ok {
		return nil, &engine.ValidationError{Field: "id", Message: "composite primary key is not addressable by id"}
	}
	pk := model.PrimaryKeyFields()[0]
	recs, err := s.st.Find(ctx, model, engine.FieldEq(model, pk, id), storage.FindOptions{
		Limit:       1,
		OnlyDeleted: onlyDeleted,
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, &engine.NotFoundError{Model: model.FQN(), Key: key.KeyString()}
	}
	return recs[0], nil
}
