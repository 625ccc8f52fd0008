package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"terem/internal/engine"
	"terem/internal/storage"
)

// ==== Парсинг query-параметров листинга ====

type ListParams struct {
	Limit   int
	Offset  int
	Sort    []storage.SortKey
	Specs   []engine.FieldSpec // field__op=value
	Include []string           // _include=rel1,rel2
	Q       string
	Nulls   string // "last" (default) | "first"

	WithDeleted bool // _with_deleted
	OnlyDeleted bool // _only_deleted
}

// служебные ключи, которые не являются фильтрами
var controlKeys = map[string]struct{}{
	"q": {}, "offset": {}, "limit": {}, "sort": {}, "order": {},
	"_offset": {}, "_limit": {}, "_sort": {}, "_order": {},
	"nulls": {}, "_include": {}, "_with_deleted": {}, "_only_deleted": {},
}

func parseListParams(q url.Values) ListParams {
	// limit
	limit := 50
	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= 1000 {
			limit = n
		}
	}

	// offset
	offset := 0
	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			offset = n
		}
	}

	// sort: "_sort=-price,name"
	var sortKeys []storage.SortKey
	sv := strings.TrimSpace(q.Get("_sort"))
	if sv == "" {
		sv = strings.TrimSpace(q.Get("sort"))
	}
	if sv != "" {
		for _, p := range strings.Split(sv, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			desc := false
			if strings.HasPrefix(p, "-") {
				desc = true
				p = strings.TrimPrefix(p, "-")
			} else if strings.HasPrefix(p, "+") {
				p = strings.TrimPrefix(p, "+")
			}
			if p != "" {
				sortKeys = append(sortKeys, storage.SortKey{Field: p, Desc: desc})
			}
		}
	}

	// nulls
	nulls := strings.ToLower(strings.TrimSpace(q.Get("nulls")))
	if nulls != "first" && nulls != "last" {
		nulls = "last"
	}

	// _include
	var include []string
	if iv := strings.TrimSpace(q.Get("_include")); iv != "" {
		for _, p := range strings.Split(iv, ",") {
			if p = strings.TrimSpace(p); p != "" {
				include = append(include, p)
			}
		}
	}

	return ListParams{
		Limit:       limit,
		Offset:      offset,
		Sort:        sortKeys,
		Specs:       buildFieldSpecs(q),
		Include:     include,
		Q:           strings.TrimSpace(q.Get("q")),
		Nulls:       nulls,
		WithDeleted: hasFlag(q, "_with_deleted"),
		OnlyDeleted: hasFlag(q, "_only_deleted"),
	}
}

func hasFlag(q url.Values, key string) bool {
	if _, ok := q[key]; !ok {
		return false
	}
	v := strings.ToLower(strings.TrimSpace(q.Get(key)))
	return v == "" || v == "1" || v == "true" || v == "yes"
}

// buildFieldSpecs разбирает фильтры вида:
//
//	status__in=Draft,Booked
//	amount__gte=1000
//	title__ilike=go
//	price__between=10,20
//	deleted_at__null=true
//	name=Alice            (без суффикса = eq)
func buildFieldSpecs(q url.Values) []engine.FieldSpec {
	var out []engine.FieldSpec
	for key, vals := range q {
		if _, ctl := controlKeys[key]; ctl {
			continue
		}
		if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
			continue
		}
		field := key
		op := engine.OpEq
		if i := strings.LastIndex(key, "__"); i > 0 {
			field = key[:i]
			op = engine.Op(key[i+2:])
		}
		v := vals[0]
		var parts []string
		switch op {
		case engine.OpIn, engine.OpBetween:
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
		default:
			parts = []string{v}
		}
		if field != "" && len(parts) > 0 {
			out = append(out, engine.FieldSpec{Field: field, Op: op, Values: parts})
		}
	}
	return out
}

func (lp ListParams) findOptions() storage.FindOptions {
	return storage.FindOptions{
		Limit:          lp.Limit,
		Offset:         lp.Offset,
		Sort:           lp.Sort,
		Nulls:          lp.Nulls,
		IncludeDeleted: lp.WithDeleted,
		OnlyDeleted:    lp.OnlyDeleted,
	}
}

// countOptions — только видимость, без пагинации: X-Total-Count и /count
// считают тот же набор записей, который видит листинг.
func (lp ListParams) countOptions() storage.FindOptions {
	return storage.FindOptions{
		IncludeDeleted: lp.WithDeleted,
		OnlyDeleted:    lp.OnlyDeleted,
	}
}

// ==== Утилита ====

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
