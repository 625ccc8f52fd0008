package schema

import (
	"fmt"
	"strings"
)

type Issue struct {
	Entity  string `json:"entity"` // FQN: module.Entity
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Lint проверяет базовые противоречия в загруженных схемах:
// ссылки и связи на несуществующие сущности, конфликтные on_delete,
// set_null на ненулевом внешнем ключе, PK/soft_delete на несуществующих полях.
func (r *Registry) Lint() []Issue {
	var issues []Issue

	for _, e := range r.All() {
		fqn := e.FQN()

		// --- поля ---
		for _, f := range e.Fields {
			// валидность on_delete на ref-полях (наследие старых схем)
			if od := strings.TrimSpace(strings.ToLower(f.Options["on_delete"])); od != "" {
				switch od {
				case "restrict", "set_null", "cascade":
				default:
					issues = append(issues, Issue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "on_delete_unknown",
						Message: fmt.Sprintf("unknown on_delete policy %q (allowed: restrict|set_null|cascade)", od),
					})
				}
			}

			if strings.EqualFold(f.Type, "ref") || (strings.EqualFold(f.Type, "array") && strings.EqualFold(f.ElemType, "ref")) {
				if strings.TrimSpace(f.RefTarget) == "" {
					issues = append(issues, Issue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "ref_target_empty",
						Message: "ref field has empty target",
					})
				} else if _, ok := r.Resolve(e, f.RefTarget); !ok {
					issues = append(issues, Issue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "ref_target_unknown",
						Message: fmt.Sprintf("ref target %q is not a known entity", f.RefTarget),
					})
				}
			}
		}

		// --- primary_key / soft_delete ---
		for _, pk := range e.PrimaryKey {
			if _, ok := e.FieldByName(pk); !ok {
				issues = append(issues, Issue{
					Entity:  fqn,
					Field:   pk,
					Code:    "primary_key_unknown_field",
					Message: fmt.Sprintf("primary_key references unknown field %q", pk),
				})
			}
		}
		if sd := e.SoftDelete; sd != nil && sd.Field == "" {
			issues = append(issues, Issue{
				Entity:  fqn,
				Code:    "soft_delete_empty_field",
				Message: "soft_delete has empty field name",
			})
		}

		// --- связи ---
		for _, rel := range e.Relations {
			switch rel.Kind {
			case HasOne, HasMany, BelongsTo:
			default:
				issues = append(issues, Issue{
					Entity:  fqn,
					Field:   rel.Name,
					Code:    "relation_kind_unknown",
					Message: fmt.Sprintf("unknown relation kind %q", rel.Kind),
				})
				continue
			}

			target, ok := r.Resolve(e, rel.Target)
			if !ok {
				issues = append(issues, Issue{
					Entity:  fqn,
					Field:   rel.Name,
					Code:    "relation_target_unknown",
					Message: fmt.Sprintf("relation target %q is not a known entity", rel.Target),
				})
				continue
			}

			if rel.ForeignKey == "" {
				issues = append(issues, Issue{
					Entity:  fqn,
					Field:   rel.Name,
					Code:    "relation_fk_missing",
					Message: "relation has no fk= option",
				})
				continue
			}

			// FK должен существовать на дочерней стороне
			fkOwner := target
			if rel.Kind == BelongsTo {
				fkOwner = e
			}
			if _, ok := fkOwner.FieldByName(rel.ForeignKey); !ok {
				issues = append(issues, Issue{
					Entity:  fqn,
					Field:   rel.Name,
					Code:    "relation_fk_unknown",
					Message: fmt.Sprintf("fk field %q not found on %s", rel.ForeignKey, fkOwner.FQN()),
				})
			}

			// каскадная политика осмысленна только на has_one/has_many
			if rel.Kind == BelongsTo && rel.OnDelete != OnDeleteNone {
				issues = append(issues, Issue{
					Entity:  fqn,
					Field:   rel.Name,
					Code:    "on_delete_on_belongs_to",
					Message: "on_delete has no effect on belongs_to relations",
				})
			}

			// set_null требует нулевого FK на дочерней стороне
			if rel.OnDelete == OnDeleteSetNull && rel.Kind != BelongsTo && !target.IsNullable(rel.ForeignKey) {
				issues = append(issues, Issue{
					Entity:  fqn,
					Field:   rel.Name,
					Code:    "set_null_on_required_fk",
					Message: fmt.Sprintf("on_delete=set_null requires nullable fk %q on %s", rel.ForeignKey, target.FQN()),
				})
			}
		}
	}
	return issues
}
