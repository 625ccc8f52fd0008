package memstore

import (
	"sort"

	"terem/internal/schema"
	"terem/internal/storage"
)

// ==== Сортировка с политикой nulls ====

// сравнение двух записей по одному ключу с учётом nullsPolicy и направления
func cmpByKey(a, b storage.Record, key string, nullsPolicy string, desc bool) int {
	va, oka := a[key]
	vb, okb := b[key]

	na := !oka || va == nil
	nb := !okb || vb == nil

	// nulls first/last
	if na && nb {
		return 0
	}
	if na != nb {
		if nullsPolicy == "first" {
			if na {
				return -1
			}
			return +1
		}
		// nulls=last (default)
		if na {
			return +1
		}
		return -1
	}

	// оба не null: числа сравниваем численно, остальное строково
	rel := 0
	fa, faOK := toFloat(va)
	fb, fbOK := toFloat(vb)
	_, aStr := va.(string)
	_, bStr := vb.(string)
	if faOK && fbOK && !aStr && !bStr {
		switch {
		case fa < fb:
			rel = -1
		case fa > fb:
			rel = +1
		}
	} else {
		sa := storage.Stringify(va)
		sb := storage.Stringify(vb)
		switch {
		case sa < sb:
			rel = -1
		case sa > sb:
			rel = +1
		}
	}
	if desc {
		rel = -rel
	}
	return rel
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
	default:
		return 0, false
	}
}

// sortRecords — мультисортировка; без явных ключей порядок
// стабилизируется по PK, чтобы выборки были детерминированы.
func sortRecords(records []storage.Record, model *schema.Entity, opts storage.FindOptions) {
	keys := opts.Sort
	if len(keys) == 0 {
		for _, pk := range model.PrimaryKeyFields() {
			keys = append(keys, storage.SortKey{Field: pk})
		}
	}
	nulls := opts.Nulls
	if nulls != "first" {
		nulls = "last"
	}

	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range keys {
			if k.Field == "" {
				continue
			}
			if c := cmpByKey(records[i], records[j], k.Field, nulls, k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}
