package engine

import (
	"context"

	"terem/internal/schema"
	"terem/internal/storage"
)

// Adapter — единственный контракт, который движок требует от
// окружения. Каждому бэкенду достаточно базовых CRUD-примитивов:
// вся реляционная логика (фильтры, связи, каскады, агрегации)
// живёт здесь один раз и не дублируется по адаптерам.
type Adapter interface {
	// Find возвращает записи, удовлетворяющие предикату.
	// Мягко удалённые исключаются, если opts не говорит иначе.
	Find(ctx context.Context, model *schema.Entity, p Predicate, opts storage.FindOptions) ([]storage.Record, error)

	// FindByKeys — батчевый поиск по значению одного поля
	// (используется Relation Resolver'ом; один вызов на N родителей).
	FindByKeys(ctx context.Context, model *schema.Entity, keyField string, values []any) ([]storage.Record, error)

	// Count считает записи под предикатом. Из opts учитывается только
	// видимость мягко удалённых (IncludeDeleted/OnlyDeleted): счёт
	// обязан совпадать с выборкой Find под теми же флагами.
	Count(ctx context.Context, model *schema.Entity, p Predicate, opts storage.FindOptions) (int, error)

	// Insert сохраняет новую запись и возвращает её вместе с
	// системными полями (id, version, created_at, updated_at).
	Insert(ctx context.Context, model *schema.Entity, rec storage.Record) (storage.Record, error)

	// Update применяет патч к записи по ключу. nil-значение в патче
	// записывает null. Возвращает обновлённую запись.
	Update(ctx context.Context, model *schema.Entity, key storage.Key, patch storage.Record) (storage.Record, error)

	// Delete удаляет запись; для сущностей с soft_delete это запись
	// отметки в поле, решает Model Descriptor, а не адаптер.
	Delete(ctx context.Context, model *schema.Entity, key storage.Key) error
}

// PrimaryKeyOf собирает ключ записи по PK-полям сущности.
func PrimaryKeyOf(model *schema.Entity, rec storage.Record) (storage.Key, error) {
	key := make(storage.Key)
	for _, f := range model.PrimaryKeyFields() {
		v, ok := rec[f]
		if !ok || v == nil {
			return nil, validationf(f, "record has no primary key value")
		}
		key[f] = v
	}
	return key, nil
}
