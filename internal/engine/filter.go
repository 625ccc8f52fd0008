package engine

import (
	"strconv"
	"strings"
	"time"

	"terem/internal/schema"
	"terem/internal/storage"
)

// ==== Компилятор фильтров ====
//
// Превращает набор троек (поле, оператор, значение) в бэкенд-нейтральный
// предикат. Семантика операторов одинакова для всех бэкендов: in-memory
// вычисляет Match, SQL/ORM транслируют условия в WHERE.

type Op string

const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpGt      Op = "gt"
	OpGte     Op = "gte"
	OpLt      Op = "lt"
	OpLte     Op = "lte"
	OpLike    Op = "like"    // подстрока, с учётом регистра
	OpILike   Op = "ilike"   // подстрока, без учёта регистра
	OpIn      Op = "in"      // вхождение в список литералов
	OpBetween Op = "between" // включительный диапазон, два литерала
	OpNull    Op = "null"    // поле null / не null (булево значение выбирает направление)
)

// FieldSpec — сырая тройка из запроса (значения — строки, как в query)
type FieldSpec struct {
	Field  string
	Op     Op
	Values []string
}

// Condition — скомпилированное условие: тип поля уже разрешён по схеме
type Condition struct {
	Field  string
	Op     Op
	Values []string
	Type   string // семантический тип поля (string, int, float, money, bool, date, datetime, enum, ref)
}

// Predicate — скомпилированный фильтр. Условия комбинируются через AND;
// поиск (SearchTerm по SearchFields) — через OR внутри себя и AND с условиями.
type Predicate struct {
	Conds        []Condition
	SearchTerm   string
	SearchFields []string
}

// Empty — предикат без условий и поиска
func (p Predicate) Empty() bool {
	return len(p.Conds) == 0 && p.SearchTerm == ""
}

// системные поля доступны в фильтрах наравне со схемными
var systemFieldTypes = map[string]string{
	"id":         "string",
	"version":    "int",
	"created_at": "datetime",
	"updated_at": "datetime",
}

// FieldType возвращает семантический тип поля для фильтрации
// ("" — поле неизвестно). enum нормализуется к "enum".
func FieldType(model *schema.Entity, name string) string {
	if f, ok := model.FieldByName(name); ok {
		if strings.HasPrefix(f.Type, "enum") || len(f.Enum) > 0 {
			return "enum"
		}
		return f.Type
	}
	if t, ok := systemFieldTypes[name]; ok {
		return t
	}
	if model.SoftDelete != nil && name == model.SoftDelete.Field {
		return "datetime"
	}
	return ""
}

var orderedTypes = map[string]bool{
	"int": true, "float": true, "money": true, "date": true, "datetime": true,
}

// Compile проверяет тройки против схемы и собирает предикат.
// Некорректная пара оператор/значение — ValidationError с именем поля,
// молча ничего не пропускаем.
func Compile(model *schema.Entity, specs []FieldSpec, search string) (Predicate, error) {
	p := Predicate{SearchTerm: strings.TrimSpace(search)}

	for _, s := range specs {
		ft := FieldType(model, s.Field)
		if ft == "" {
			return Predicate{}, validationf(s.Field, "unknown field for %s", model.FQN())
		}

		switch s.Op {
		case OpEq, OpNe:
			if len(s.Values) != 1 {
				return Predicate{}, validationf(s.Field, "operator %s expects exactly one value", s.Op)
			}
		case OpGt, OpGte, OpLt, OpLte:
			if !orderedTypes[ft] {
				return Predicate{}, validationf(s.Field, "operator %s is not applicable to type %s", s.Op, ft)
			}
			if len(s.Values) != 1 {
				return Predicate{}, validationf(s.Field, "operator %s expects exactly one value", s.Op)
			}
		case OpLike, OpILike:
			if ft != "string" {
				return Predicate{}, validationf(s.Field, "operator %s is only applicable to string fields", s.Op)
			}
			if len(s.Values) != 1 {
				return Predicate{}, validationf(s.Field, "operator %s expects exactly one value", s.Op)
			}
		case OpIn:
			if len(s.Values) == 0 {
				return Predicate{}, validationf(s.Field, "operator in expects at least one value")
			}
		case OpBetween:
			if !orderedTypes[ft] {
				return Predicate{}, validationf(s.Field, "operator between is not applicable to type %s", ft)
			}
			if len(s.Values) != 2 {
				return Predicate{}, validationf(s.Field, "operator between expects exactly two values")
			}
		case OpNull:
			if !model.IsNullable(s.Field) && !isSystemNullable(model, s.Field) {
				return Predicate{}, validationf(s.Field, "operator null is only applicable to nullable fields")
			}
			if len(s.Values) != 1 {
				return Predicate{}, validationf(s.Field, "operator null expects a boolean value")
			}
			if _, err := strconv.ParseBool(s.Values[0]); err != nil {
				return Predicate{}, validationf(s.Field, "operator null expects a boolean value, got %q", s.Values[0])
			}
		default:
			return Predicate{}, validationf(s.Field, "unknown operator %q", s.Op)
		}

		p.Conds = append(p.Conds, Condition{Field: s.Field, Op: s.Op, Values: s.Values, Type: ft})
	}

	if p.SearchTerm != "" {
		// q-поиск: OR по строковым полям схемы
		for _, f := range model.Fields {
			if f.Type == "string" {
				p.SearchFields = append(p.SearchFields, f.Name)
			}
		}
	}
	return p, nil
}

func isSystemNullable(model *schema.Entity, field string) bool {
	return model.SoftDelete != nil && field == model.SoftDelete.Field
}

// ==== In-process вычисление ====

// Match проверяет запись против предиката. Семантика null как в SQL:
// отсутствующее/null-значение не проходит ни одно сравнение, кроме
// оператора null.
func (p Predicate) Match(rec storage.Record) bool {
	for _, c := range p.Conds {
		if !matchCond(c, rec[c.Field]) {
			return false
		}
	}
	if p.SearchTerm != "" {
		needle := strings.ToLower(p.SearchTerm)
		found := false
		for _, f := range p.SearchFields {
			if s, ok := rec[f].(string); ok && strings.Contains(strings.ToLower(s), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchCond(c Condition, got any) bool {
	if c.Op == OpNull {
		wantNull, _ := strconv.ParseBool(c.Values[0])
		return (got == nil) == wantNull
	}
	if got == nil {
		return false
	}

	switch c.Type {
	case "int", "float", "money":
		gv, ok := toFloat(got)
		if !ok {
			return false
		}
		return matchNumber(gv, c.Op, c.Values)
	case "date":
		return matchTime("2006-01-02", got, c.Op, c.Values)
	case "datetime":
		return matchTime(time.RFC3339, got, c.Op, c.Values)
	case "bool":
		gb, ok := got.(bool)
		if !ok {
			return false
		}
		wb, err := strconv.ParseBool(strings.TrimSpace(c.Values[0]))
		if err != nil {
			return false
		}
		switch c.Op {
		case OpEq:
			return gb == wb
		case OpNe:
			return gb != wb
		case OpIn:
			for _, w := range c.Values {
				if v, err := strconv.ParseBool(strings.TrimSpace(w)); err == nil && v == gb {
					return true
				}
			}
			return false
		}
		return false
	default:
		// string, enum, ref, id и прочее строковое
		return matchString(storage.Stringify(got), c.Op, c.Values)
	}
}

func matchNumber(gv float64, op Op, vals []string) bool {
	parse := func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	switch op {
	case OpIn:
		for _, w := range vals {
			if wv, ok := parse(w); ok && wv == gv {
				return true
			}
		}
		return false
	case OpBetween:
		lo, ok1 := parse(vals[0])
		hi, ok2 := parse(vals[1])
		return ok1 && ok2 && gv >= lo && gv <= hi
	}
	wv, ok := parse(vals[0])
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return gv == wv
	case OpNe:
		return gv != wv
	case OpGt:
		return gv > wv
	case OpGte:
		return gv >= wv
	case OpLt:
		return gv < wv
	case OpLte:
		return gv <= wv
	}
	return false
}

func matchTime(layout string, got any, op Op, vals []string) bool {
	gs, ok := got.(string)
	if !ok {
		return false
	}
	gd, err := time.Parse(layout, gs)
	if err != nil {
		return false
	}
	parse := func(s string) (time.Time, bool) {
		d, err := time.Parse(layout, strings.TrimSpace(s))
		return d, err == nil
	}
	switch op {
	case OpIn:
		for _, w := range vals {
			if wd, ok := parse(w); ok && gd.Equal(wd) {
				return true
			}
		}
		return false
	case OpBetween:
		lo, ok1 := parse(vals[0])
		hi, ok2 := parse(vals[1])
		return ok1 && ok2 && !gd.Before(lo) && !gd.After(hi)
	}
	wd, ok := parse(vals[0])
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return gd.Equal(wd)
	case OpNe:
		return !gd.Equal(wd)
	case OpGt:
		return gd.After(wd)
	case OpGte:
		return !gd.Before(wd)
	case OpLt:
		return gd.Before(wd)
	case OpLte:
		return !gd.After(wd)
	}
	return false
}

func matchString(gs string, op Op, vals []string) bool {
	switch op {
	case OpEq:
		return gs == vals[0]
	case OpNe:
		return gs != vals[0]
	case OpLike:
		return strings.Contains(gs, vals[0])
	case OpILike:
		return strings.Contains(strings.ToLower(gs), strings.ToLower(vals[0]))
	case OpIn:
		for _, w := range vals {
			if gs == strings.TrimSpace(w) {
				return true
			}
		}
		return false
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FieldEq — служебный предикат «поле равно значению»: используется
// резолвером связей и каскадом для выборки зависимых записей.
func FieldEq(model *schema.Entity, field string, value any) Predicate {
	return Predicate{Conds: []Condition{{
		Field:  field,
		Op:     OpEq,
		Values: []string{storage.Stringify(value)},
		Type:   FieldType(model, field),
	}}}
}
