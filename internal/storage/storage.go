// Package storage содержит общие типы данных для всех бэкендов.
// Сам контракт адаптера объявлен на стороне потребителя — в internal/engine.
package storage

import (
	"fmt"
	"sort"
	"strings"
)

// Record — одна запись сущности в «плоском» виде: пользовательские
// поля плюс системные (id, version, created_at, updated_at).
type Record map[string]any

// Key — значения первичного ключа записи, поле → значение.
type Key map[string]any

// SortKey — один ключ сортировки
type SortKey struct {
	Field string
	Desc  bool
}

// FindOptions — параметры выборки
type FindOptions struct {
	Limit  int // 0 = без ограничения
	Offset int
	Sort   []SortKey
	Nulls  string // "last" (default) | "first"

	// Переопределение исключения мягко удалённых записей
	IncludeDeleted bool
	OnlyDeleted    bool
}

// Clone — неглубокая копия записи
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Stringify — каноничное строковое представление значения для
// сравнения ключей между бэкендами (JSON-числа приходят как float64).
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// KeyString — стабильная строка составного ключа (для map-индексов).
func (k Key) KeyString() string {
	fields := make([]string, 0, len(k))
	for f := range k {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+"="+Stringify(k[f]))
	}
	return strings.Join(parts, "\x1f")
}
