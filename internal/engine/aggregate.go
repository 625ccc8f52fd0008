package engine

import (
	"sort"
	"strconv"
	"strings"

	"terem/internal/schema"
	"terem/internal/storage"
)

// ==== Агрегации ====
//
// Вход — уже отфильтрованный набор записей (пред-агрегационные фильтры
// применяет компилятор фильтров на стороне выборки). Группировка,
// having, сортировка и пагинация списка групп считаются здесь,
// одинаково для всех бэкендов.
//
// Контракт пустой выборки (без group_by, ноль записей):
// count/countDistinct = 0, sum/avg/min/max = null. Зафиксировано тестами.

type AggregateOp struct {
	Op    string // count | countDistinct | sum | avg | min | max
	Field string // "*" допустим только для count
	Alias string // пусто = AliasFor(Op, Field)
}

type AggregateSpec struct {
	Ops     []AggregateOp
	GroupBy []string
	// Having — фильтр по ВЫЧИСЛЕННЫМ значениям группы (алиасы и
	// group_by-поля), тот же словарь операторов, что и у фильтров.
	Having    []FieldSpec
	OrderBy   string // group_by-поле или алиас
	OrderDesc bool
	Limit     int // применяется к СПИСКУ ГРУПП, после сортировки
	Offset    int
}

// AggregateResult: формы сгруппированного и простого результата
// различаются — вызывающий ветвится по Grouped.
type AggregateResult struct {
	Grouped     bool
	Values      map[string]any   // без group_by: единственный объект значений
	Groups      []map[string]any // с group_by: ключи группы + алиасы
	TotalGroups int              // всего групп ДО пагинации (после having)
}

var aggregateOps = map[string]bool{
	"count": true, "countDistinct": true, "sum": true, "avg": true, "min": true, "max": true,
}

var numericFieldTypes = map[string]bool{"int": true, "float": true, "money": true}

// AliasFor — чистая функция имени по умолчанию: {op}{Field} в camelCase,
// count(*) даёт просто "count".
func AliasFor(op, field string) string {
	if field == "" || field == "*" {
		return op
	}
	parts := strings.FieldsFunc(field, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	var b strings.Builder
	b.WriteString(op)
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// Aggregate вычисляет агрегации по записям согласно спецификации.
func Aggregate(model *schema.Entity, recs []storage.Record, spec AggregateSpec) (*AggregateResult, error) {
	if len(spec.Ops) == 0 {
		return nil, validationf("", "aggregation requires at least one operation")
	}

	// --- валидация операций ---
	aliases := make([]string, 0, len(spec.Ops))
	resolved := make([]AggregateOp, 0, len(spec.Ops))
	for _, op := range spec.Ops {
		if !aggregateOps[op.Op] {
			return nil, validationf(op.Field, "unknown aggregate operation %q", op.Op)
		}
		if op.Field == "*" && op.Op != "count" {
			return nil, validationf(op.Field, "field * is only allowed for count")
		}
		if op.Field != "*" {
			ft := FieldType(model, op.Field)
			if ft == "" {
				return nil, validationf(op.Field, "unknown field for %s", model.FQN())
			}
			switch op.Op {
			case "sum", "avg":
				if !numericFieldTypes[ft] {
					return nil, validationf(op.Field, "operation %s requires a numeric field, got %s", op.Op, ft)
				}
			case "min", "max":
				if !numericFieldTypes[ft] && ft != "date" && ft != "datetime" {
					return nil, validationf(op.Field, "operation %s requires a numeric or date field, got %s", op.Op, ft)
				}
			}
		}
		if op.Alias == "" {
			op.Alias = AliasFor(op.Op, op.Field)
		}
		aliases = append(aliases, op.Alias)
		resolved = append(resolved, op)
	}

	for _, g := range spec.GroupBy {
		if FieldType(model, g) == "" {
			return nil, validationf(g, "unknown group_by field for %s", model.FQN())
		}
	}

	if len(spec.GroupBy) == 0 {
		if len(spec.Having) > 0 {
			return nil, validationf("", "having requires group_by")
		}
		return &AggregateResult{
			Grouped: false,
			Values:  computeOps(resolved, recs),
		}, nil
	}

	// --- группировка: ключ — кортеж значений group_by-полей,
	// null — отдельный ключ группы ---
	type partition struct {
		keyVals map[string]any
		recs    []storage.Record
	}
	order := []string{}
	parts := map[string]*partition{}
	for _, r := range recs {
		kb := make([]string, 0, len(spec.GroupBy))
		keyVals := make(map[string]any, len(spec.GroupBy))
		for _, g := range spec.GroupBy {
			v := r[g]
			keyVals[g] = v
			if v == nil {
				kb = append(kb, "\x00null")
			} else {
				kb = append(kb, storage.Stringify(v))
			}
		}
		key := strings.Join(kb, "\x1f")
		p, ok := parts[key]
		if !ok {
			p = &partition{keyVals: keyVals}
			parts[key] = p
			order = append(order, key)
		}
		p.recs = append(p.recs, r)
	}

	groups := make([]map[string]any, 0, len(order))
	for _, key := range order {
		p := parts[key]
		g := computeOps(resolved, p.recs)
		for f, v := range p.keyVals {
			g[f] = v
		}
		groups = append(groups, g)
	}

	// --- having: после группировки, до сортировки/пагинации ---
	if len(spec.Having) > 0 {
		known := append(append([]string{}, spec.GroupBy...), aliases...)
		for _, h := range spec.Having {
			if !contains(known, h.Field) {
				return nil, validationf(h.Field, "having references unknown alias or group field (known: %s)", strings.Join(known, ", "))
			}
			if err := checkHavingSpec(h); err != nil {
				return nil, err
			}
		}
		kept := groups[:0]
		for _, g := range groups {
			ok := true
			for _, h := range spec.Having {
				if !matchComputed(g[h.Field], h.Op, h.Values) {
					ok = false
					break
				}
			}
			if ok {
				kept = append(kept, g)
			}
		}
		groups = kept
	}

	total := len(groups)

	// --- сортировка списка групп ---
	if spec.OrderBy != "" {
		known := append(append([]string{}, spec.GroupBy...), aliases...)
		if !contains(known, spec.OrderBy) {
			return nil, validationf(spec.OrderBy, "order_by references unknown alias or group field")
		}
		sort.SliceStable(groups, func(i, j int) bool {
			c := compareComputed(groups[i][spec.OrderBy], groups[j][spec.OrderBy])
			if spec.OrderDesc {
				return c > 0
			}
			return c < 0
		})
	}

	// --- пагинация списка групп; TotalGroups отражает счёт до неё ---
	start := spec.Offset
	if start < 0 {
		start = 0
	}
	if start > len(groups) {
		start = len(groups)
	}
	end := len(groups)
	if spec.Limit > 0 && start+spec.Limit < end {
		end = start + spec.Limit
	}

	return &AggregateResult{
		Grouped:     true,
		Groups:      groups[start:end],
		TotalGroups: total,
	}, nil
}

// computeOps считает все операции по одному набору записей.
func computeOps(ops []AggregateOp, recs []storage.Record) map[string]any {
	out := make(map[string]any, len(ops))
	for _, op := range ops {
		out[op.Alias] = computeOp(op, recs)
	}
	return out
}

func computeOp(op AggregateOp, recs []storage.Record) any {
	switch op.Op {
	case "count":
		if op.Field == "*" || op.Field == "" {
			return len(recs)
		}
		n := 0
		for _, r := range recs {
			if r[op.Field] != nil {
				n++
			}
		}
		return n
	case "countDistinct":
		seen := map[string]bool{}
		for _, r := range recs {
			if v := r[op.Field]; v != nil {
				seen[storage.Stringify(v)] = true
			}
		}
		return len(seen)
	case "sum":
		return sumOf(op.Field, recs)
	case "avg":
		// точная сумма на количество, не скользящее среднее;
		// всегда float даже над целыми
		var sum float64
		n := 0
		for _, r := range recs {
			if f, ok := toFloat(r[op.Field]); ok && r[op.Field] != nil {
				sum += f
				n++
			}
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	case "min", "max":
		var best any
		for _, r := range recs {
			v := r[op.Field]
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := compareComputed(v, best)
			if (op.Op == "min" && c < 0) || (op.Op == "max" && c > 0) {
				best = v
			}
		}
		return best
	}
	return nil
}

// sumOf сохраняет целочисленность, пока все слагаемые целые.
func sumOf(field string, recs []storage.Record) any {
	var fsum float64
	var isum int64
	allInt := true
	n := 0
	for _, r := range recs {
		v := r[field]
		if v == nil {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		n++
		fsum += f
		if allInt {
			switch t := v.(type) {
			case int:
				isum += int64(t)
			case int64:
				isum += t
			case float64:
				if t == float64(int64(t)) {
					isum += int64(t)
				} else {
					allInt = false
				}
			default:
				allInt = false
			}
		}
	}
	if n == 0 {
		return nil
	}
	if allInt {
		return isum
	}
	return fsum
}

// checkHavingSpec — те же проверки оператора и арности, что делает
// компилятор фильтров для строк; тип значения группы известен только
// в рантайме, поэтому проверяем то, что проверяемо заранее.
func checkHavingSpec(h FieldSpec) error {
	switch h.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpLike, OpILike:
		if len(h.Values) != 1 {
			return validationf(h.Field, "operator %s expects exactly one value", h.Op)
		}
	case OpIn:
		if len(h.Values) == 0 {
			return validationf(h.Field, "operator in expects at least one value")
		}
	case OpBetween:
		if len(h.Values) != 2 {
			return validationf(h.Field, "operator between expects exactly two values")
		}
	case OpNull:
		if len(h.Values) != 1 {
			return validationf(h.Field, "operator null expects a boolean value")
		}
		if _, err := strconv.ParseBool(h.Values[0]); err != nil {
			return validationf(h.Field, "operator null expects a boolean value, got %q", h.Values[0])
		}
	default:
		return validationf(h.Field, "unknown operator %q", h.Op)
	}
	return nil
}

// matchComputed — проверка having по уже вычисленному значению:
// тип определяем динамически, словарь операторов тот же.
func matchComputed(got any, op Op, vals []string) bool {
	if op == OpNull {
		wantNull, _ := strconv.ParseBool(vals[0])
		return (got == nil) == wantNull
	}
	if got == nil {
		return false
	}
	if f, ok := toFloat(got); ok {
		if _, isStr := got.(string); !isStr {
			return matchNumber(f, op, vals)
		}
	}
	// строковые значения групп (min/max по датам и т.п.) сравниваются
	// лексикографически; ISO-форматы дат это сохраняет
	gs := storage.Stringify(got)
	switch op {
	case OpGt:
		return gs > vals[0]
	case OpGte:
		return gs >= vals[0]
	case OpLt:
		return gs < vals[0]
	case OpLte:
		return gs <= vals[0]
	case OpBetween:
		return gs >= vals[0] && gs <= vals[1]
	}
	return matchString(gs, op, vals)
}

// compareComputed — сравнение значений группы для сортировки:
// числа численно, остальное строково, null — в конец.
func compareComputed(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return +1
	}
	if b == nil {
		return -1
	}
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	_, aStr := a.(string)
	_, bStr := b.(string)
	if oka && okb && !aStr && !bStr {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return +1
		default:
			return 0
		}
	}
	sa, sb := storage.Stringify(a), storage.Stringify(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return +1
	default:
		return 0
	}
}
