package schema

import "strings"

// Entity описывает структуру сущности из DSL: поля, ключи,
// мягкое удаление и связи. После загрузки — только для чтения.
type Entity struct {
	Module      string
	Name        string
	Fields      []Field
	Constraints Constraints

	// PrimaryKey — одно или несколько полей, идентифицирующих запись.
	// Пустой список означает сгенерированный "id" (ULID).
	PrimaryKey []string

	// SoftDelete — если задан, удаление записи это запись в поле,
	// а не физическое удаление; все чтения исключают такие записи,
	// пока явно не попросили иначе.
	SoftDelete *SoftDelete

	// Relations — объявленные связи. Порядок важен: каскадная
	// обработка идёт в порядке объявления.
	Relations []Relation
}

// Field описывает поле сущности
type Field struct {
	Name      string
	Type      string            // string, int, float, money, bool, date, datetime, enum, ref, array
	ElemType  string            // для array: тип элемента
	RefTarget string            // для ref / array[ref]: целевая сущность
	Enum      []string          // значения enum, если поле типа enum
	Options   map[string]string // required, unique, default, readonly и прочие опции
}

// Constraints — ограничения уровня сущности
type Constraints struct {
	Unique [][]string // составные unique-ключи
}

// SoftDelete — конфигурация мягкого удаления
type SoftDelete struct {
	Field      string   // поле-отметка (обычно deleted_at)
	QueryFlags []string // query-флаги, переопределяющие исключение: _with_deleted, _only_deleted
}

// RelationKind — вид связи между сущностями
type RelationKind string

const (
	HasOne    RelationKind = "has_one"
	HasMany   RelationKind = "has_many"
	BelongsTo RelationKind = "belongs_to"
)

// OnDeletePolicy — что делать с зависимыми записями при удалении родителя
type OnDeletePolicy string

const (
	OnDeleteNone     OnDeletePolicy = ""
	OnDeleteCascade  OnDeletePolicy = "cascade"
	OnDeleteSetNull  OnDeletePolicy = "set_null"
	OnDeleteRestrict OnDeletePolicy = "restrict"
)

// Relation — направленное ребро между двумя сущностями.
// Для has_one/has_many внешний ключ живёт на дочерней стороне,
// для belongs_to — на этой сущности.
type Relation struct {
	Name       string
	Kind       RelationKind
	Target     string // имя целевой сущности (FQN или без модуля)
	ForeignKey string // поле внешнего ключа на дочерней стороне
	LocalKey   string // поле на родительской стороне (по умолчанию — PK)
	OnDelete   OnDeletePolicy
}

// FQN возвращает полное имя "module.Name"
func (e *Entity) FQN() string { return e.Module + "." + e.Name }

// FieldByName ищет поле по имени
func (e *Entity) FieldByName(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RelationByName ищет связь по имени
func (e *Entity) RelationByName(name string) (Relation, bool) {
	for _, r := range e.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// RelationNames — имена всех объявленных связей (в порядке объявления)
func (e *Entity) RelationNames() []string {
	out := make([]string, 0, len(e.Relations))
	for _, r := range e.Relations {
		out = append(out, r.Name)
	}
	return out
}

// PrimaryKeyFields — имена PK-полей; по умолчанию системный "id"
func (e *Entity) PrimaryKeyFields() []string {
	if len(e.PrimaryKey) > 0 {
		return e.PrimaryKey
	}
	return []string{"id"}
}

// LocalKeyOf — поле родителя, на которое указывает FK связи.
// Пустой LocalKey означает одиночный PK родителя.
func (e *Entity) LocalKeyOf(r Relation) string {
	if r.LocalKey != "" {
		return r.LocalKey
	}
	pk := e.PrimaryKeyFields()
	return pk[0]
}

// IsNullable — можно ли записать null в поле.
// PK и required-поля — нет, остальные — да.
func (e *Entity) IsNullable(name string) bool {
	for _, pk := range e.PrimaryKeyFields() {
		if pk == name {
			return false
		}
	}
	f, ok := e.FieldByName(name)
	if !ok {
		return false
	}
	if f.Options != nil && strings.EqualFold(f.Options["required"], "true") {
		return false
	}
	return true
}
