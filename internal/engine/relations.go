package engine

import (
	"context"
	"fmt"
	"strings"

	"terem/internal/schema"
	"terem/internal/storage"
)

// ==== Резолвер связей (eager-loading) ====
//
// Для каждого запрошенного имени связи выполняется РОВНО ОДИН батчевый
// запрос к адаптеру на всю пачку родительских записей — N+1 запрещён.
// Резолвер ничего не мутирует в хранилище; записи получают поле с именем
// связи, порядок родителей сохраняется как во входном срезе.

// ResolveRelations подгружает и прикрепляет связанные записи.
// allowed — допустимый список имён для этого вызова (nil = все
// объявленные на сущности связи).
func ResolveRelations(ctx context.Context, st Adapter, reg *schema.Registry, model *schema.Entity, recs []storage.Record, names []string, allowed []string) error {
	if len(recs) == 0 || len(names) == 0 {
		return nil
	}

	permitted := allowed
	if permitted == nil {
		permitted = model.RelationNames()
	}

	for _, name := range names {
		rel, ok := model.RelationByName(name)
		if !ok || !contains(permitted, name) {
			return validationf(name, "unknown relation for %s (allowed: %s)",
				model.FQN(), strings.Join(permitted, ", "))
		}

		target, ok := reg.Resolve(model, rel.Target)
		if !ok {
			return &ConfigurationError{
				Model:  model.FQN(),
				Detail: fmt.Sprintf("relation %q targets unknown entity %q", name, rel.Target),
			}
		}

		var err error
		switch rel.Kind {
		case schema.HasMany, schema.HasOne:
			err = resolveHas(ctx, st, model, target, rel, recs)
		case schema.BelongsTo:
			err = resolveBelongsTo(ctx, st, target, rel, recs)
		default:
			err = &ConfigurationError{
				Model:  model.FQN(),
				Detail: fmt.Sprintf("relation %q has unknown kind %q", name, rel.Kind),
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveHas — has_one/has_many: FK живёт на дочерней стороне.
// Собираем localKey родителей, одним запросом тянем детей по FK,
// раскладываем обратно по родителям.
func resolveHas(ctx context.Context, st Adapter, model, target *schema.Entity, rel schema.Relation, recs []storage.Record) error {
	localKey := model.LocalKeyOf(rel)

	vals := make([]any, 0, len(recs))
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		v := r[localKey]
		if v == nil {
			continue
		}
		k := storage.Stringify(v)
		if !seen[k] {
			seen[k] = true
			vals = append(vals, v)
		}
	}

	byFK := make(map[string][]storage.Record)
	if len(vals) > 0 {
		children, err := st.FindByKeys(ctx, target, rel.ForeignKey, vals)
		if err != nil {
			return err
		}
		for _, c := range children {
			k := storage.Stringify(c[rel.ForeignKey])
			byFK[k] = append(byFK[k], c)
		}
	}

	for _, r := range recs {
		group := byFK[storage.Stringify(r[localKey])]
		if rel.Kind == schema.HasOne {
			// дубликаты — проблема целостности данных выше по течению;
			// берём первую попавшуюся
			if len(group) > 0 {
				r[rel.Name] = group[0]
			} else {
				r[rel.Name] = nil
			}
			continue
		}
		if group == nil {
			group = []storage.Record{}
		}
		r[rel.Name] = group
	}
	return nil
}

// resolveBelongsTo — FK на этой сущности, родителей тянем по их ключу.
func resolveBelongsTo(ctx context.Context, st Adapter, target *schema.Entity, rel schema.Relation, recs []storage.Record) error {
	parentKey := rel.LocalKey
	if parentKey == "" {
		parentKey = target.PrimaryKeyFields()[0]
	}

	vals := make([]any, 0, len(recs))
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		v := r[rel.ForeignKey]
		if v == nil {
			continue
		}
		k := storage.Stringify(v)
		if !seen[k] {
			seen[k] = true
			vals = append(vals, v)
		}
	}

	byKey := make(map[string]storage.Record)
	if len(vals) > 0 {
		parents, err := st.FindByKeys(ctx, target, parentKey, vals)
		if err != nil {
			return err
		}
		for _, p := range parents {
			byKey[storage.Stringify(p[parentKey])] = p
		}
	}

	for _, r := range recs {
		v := r[rel.ForeignKey]
		if v == nil {
			r[rel.Name] = nil
			continue
		}
		if p, ok := byKey[storage.Stringify(v)]; ok {
			r[rel.Name] = p
		} else {
			r[rel.Name] = nil
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
