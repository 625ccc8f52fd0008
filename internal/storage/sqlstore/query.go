package sqlstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"terem/internal/engine"
	"terem/internal/schema"
	"terem/internal/storage"
)

// ==== Трансляция предиката в WHERE ====
//
// Предикат бэкенд-нейтрален; здесь он толкается в Postgres как
// параметризованный фрагмент. Семантика должна бит-в-бит совпадать с
// in-process Match: like/ilike — подстрока, between — включительно,
// null-значения не проходят сравнения.

type args struct {
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return fmt.Sprintf("$%d", len(a.vals))
}

// TypedArg приводит строковое значение условия к Go-типу колонки,
// чтобы pgx передал параметр с правильным типом.
func TypedArg(ft, s string) any {
	s = strings.TrimSpace(s)
	switch ft {
	case "int":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "float", "money":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "bool":
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case "date":
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return t
		}
	case "datetime":
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return s
}

// whereClause собирает фрагменты WHERE из предиката (без soft-delete —
// его добавляет вызывающий по FindOptions).
func whereClause(p engine.Predicate, a *args) []string {
	var frags []string

	for _, c := range p.Conds {
		col := Ident(c.Field)
		switch c.Op {
		case engine.OpEq:
			frags = append(frags, fmt.Sprintf("%s = %s", col, a.add(TypedArg(c.Type, c.Values[0]))))
		case engine.OpNe:
			frags = append(frags, fmt.Sprintf("%s <> %s", col, a.add(TypedArg(c.Type, c.Values[0]))))
		case engine.OpGt:
			frags = append(frags, fmt.Sprintf("%s > %s", col, a.add(TypedArg(c.Type, c.Values[0]))))
		case engine.OpGte:
			frags = append(frags, fmt.Sprintf("%s >= %s", col, a.add(TypedArg(c.Type, c.Values[0]))))
		case engine.OpLt:
			frags = append(frags, fmt.Sprintf("%s < %s", col, a.add(TypedArg(c.Type, c.Values[0]))))
		case engine.OpLte:
			frags = append(frags, fmt.Sprintf("%s <= %s", col, a.add(TypedArg(c.Type, c.Values[0]))))
		case engine.OpLike:
			frags = append(frags, fmt.Sprintf("%s LIKE %s", col, a.add("%"+c.Values[0]+"%")))
		case engine.OpILike:
			frags = append(frags, fmt.Sprintf("%s ILIKE %s", col, a.add("%"+c.Values[0]+"%")))
		case engine.OpIn:
			ph := make([]string, 0, len(c.Values))
			for _, v := range c.Values {
				ph = append(ph, a.add(TypedArg(c.Type, v)))
			}
			frags = append(frags, fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ", ")))
		case engine.OpBetween:
			lo := a.add(TypedArg(c.Type, c.Values[0]))
			hi := a.add(TypedArg(c.Type, c.Values[1]))
			frags = append(frags, fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi))
		case engine.OpNull:
			wantNull, _ := strconv.ParseBool(c.Values[0])
			if wantNull {
				frags = append(frags, col+" IS NULL")
			} else {
				frags = append(frags, col+" IS NOT NULL")
			}
		}
	}

	if p.SearchTerm != "" && len(p.SearchFields) > 0 {
		var ors []string
		for _, f := range p.SearchFields {
			ors = append(ors, fmt.Sprintf("%s ILIKE %s", Ident(f), a.add("%"+p.SearchTerm+"%")))
		}
		frags = append(frags, "("+strings.Join(ors, " OR ")+")")
	}

	return frags
}

// softDeleteClause — фрагмент исключения мягко удалённых
func softDeleteClause(model *schema.Entity, opts storage.FindOptions) string {
	if model.SoftDelete == nil {
		return ""
	}
	col := Ident(model.SoftDelete.Field)
	if opts.OnlyDeleted {
		return col + " IS NOT NULL"
	}
	if opts.IncludeDeleted {
		return ""
	}
	return col + " IS NULL"
}

// ==== Колонки и сканирование ====

// ColumnsOf — стабильный список колонок сущности (системные + схемные)
func ColumnsOf(model *schema.Entity) []string {
	var cols []string
	seen := map[string]bool{}
	if len(model.PrimaryKey) == 0 {
		cols = append(cols, "id")
		seen["id"] = true
	}
	for _, f := range model.Fields {
		cols = append(cols, f.Name)
		seen[strings.ToLower(f.Name)] = true
	}
	if sd := model.SoftDelete; sd != nil && !seen[strings.ToLower(sd.Field)] {
		cols = append(cols, sd.Field)
	}
	cols = append(cols, "version", "created_at", "updated_at")
	return cols
}

func selectList(cols []string) string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, Ident(c))
	}
	return strings.Join(out, ", ")
}

// NormalizeScanned приводит значение из БД к соглашениям Record:
// даты — строки, jsonb-массивы — []any, numeric — float64.
func NormalizeScanned(ft string, v any) any {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		if ft == "date" {
			return t.Format("2006-01-02")
		}
		return t.UTC().Format(time.RFC3339)
	case []byte:
		if ft == "array" {
			var arr []any
			if err := json.Unmarshal(t, &arr); err == nil {
				return arr
			}
			return nil
		}
		if ft == "money" || ft == "float" {
			if f, err := strconv.ParseFloat(string(t), 64); err == nil {
				return f
			}
		}
		return string(t)
	case string:
		if ft == "money" || ft == "float" {
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		}
		return t
	default:
		return v
	}
}

// BindValue — обратное преобразование: значение записи → аргумент запроса
func BindValue(model *schema.Entity, field string, v any) any {
	if v == nil {
		return nil
	}
	ft := engine.FieldType(model, field)
	switch ft {
	case "date":
		if s, ok := v.(string); ok {
			if t, err := time.Parse("2006-01-02", s); err == nil {
				return t
			}
		}
	case "datetime":
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t
			}
		}
	case "int":
		switch t := v.(type) {
		case float64:
			return int64(t)
		case int:
			return int64(t)
		}
	case "array":
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return b
	}
	return v
}

func FieldTypeOf(model *schema.Entity, name string) string {
	if ft := engine.FieldType(model, name); ft != "" {
		return ft
	}
	if f, ok := model.FieldByName(name); ok {
		return f.Type
	}
	return "string"
}
