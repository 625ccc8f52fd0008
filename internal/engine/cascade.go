package engine

import (
	"context"
	"fmt"

	"terem/internal/schema"
	"terem/internal/storage"
)

// ==== Каскадный резолвер ====
//
// Удаление родителя раскладывается на две фазы: planDelete строит
// полный план зависимых мутаций (только чтения, рекурсивно по
// cascade-рёбрам), execute применяет его глубже-сначала. Благодаря
// разделению все restrict-проверки происходят ДО первой мутации где бы
// то ни было; restrict на любом уровне отменяет операцию целиком.
//
// Цикл cascade-связей (A каскадит в B, B в A) схемой не запрещён и
// здесь не детектируется — это задокументированная зона риска
// конфигурации, см. DESIGN.md.

// CascadePlan — дерево зависимых мутаций для удаления одной записи.
type CascadePlan struct {
	Model *schema.Entity
	Key   storage.Key
	Steps []CascadeStep
}

// CascadeStep — мутации по одной связи родителя.
type CascadeStep struct {
	Relation   string
	Action     schema.OnDeletePolicy // cascade | set_null
	Target     *schema.Entity
	ForeignKey string

	// set_null: ключи детей, которым обнуляем FK. Дальше не рекурсим —
	// внуки set_null-ребра не трогаются.
	NullKeys []storage.Key

	// cascade: планы удаления каждой дочерней записи
	SubPlans []*CascadePlan
}

// CascadeResult — счётчики применённых мутаций, ключ —
// квалифицированное имя связи "module.Entity.relation".
type CascadeResult struct {
	Deleted map[string]int
	Nulled  map[string]int
}

func newCascadeResult() *CascadeResult {
	return &CascadeResult{Deleted: map[string]int{}, Nulled: map[string]int{}}
}

// PlanDelete строит план удаления записи. Только чтения: до возврата
// плана хранилище не меняется. Restrict-проверки корня выполняются
// раньше любых выборок по cascade/set_null-рёбрам.
func PlanDelete(ctx context.Context, st Adapter, reg *schema.Registry, model *schema.Entity, rec storage.Record) (*CascadePlan, error) {
	key, err := PrimaryKeyOf(model, rec)
	if err != nil {
		return nil, err
	}
	plan := &CascadePlan{Model: model, Key: key}

	// 1) restrict-рёбра корня — до построения каких-либо под-планов
	for _, rel := range model.Relations {
		if rel.OnDelete != schema.OnDeleteRestrict || rel.Kind == schema.BelongsTo {
			continue
		}
		target, localVal, err := cascadeEdge(reg, model, rel, rec)
		if err != nil {
			return nil, err
		}
		if localVal == nil {
			continue
		}
		n, err := st.Count(ctx, target, FieldEq(target, rel.ForeignKey, localVal), storage.FindOptions{})
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, &ConflictError{Relation: rel.Name, Dependents: n}
		}
	}

	// 2) cascade / set_null — в порядке объявления связей
	for _, rel := range model.Relations {
		if rel.Kind == schema.BelongsTo {
			continue
		}
		if rel.OnDelete != schema.OnDeleteCascade && rel.OnDelete != schema.OnDeleteSetNull {
			continue
		}
		target, localVal, err := cascadeEdge(reg, model, rel, rec)
		if err != nil {
			return nil, err
		}
		if localVal == nil {
			continue
		}

		if rel.OnDelete == schema.OnDeleteSetNull && !target.IsNullable(rel.ForeignKey) {
			return nil, &ConfigurationError{
				Model:  model.FQN(),
				Detail: fmt.Sprintf("relation %q: on_delete=set_null requires nullable fk %q on %s", rel.Name, rel.ForeignKey, target.FQN()),
			}
		}

		children, err := st.Find(ctx, target, FieldEq(target, rel.ForeignKey, localVal), storage.FindOptions{})
		if err != nil {
			return nil, err
		}

		step := CascadeStep{
			Relation:   rel.Name,
			Action:     rel.OnDelete,
			Target:     target,
			ForeignKey: rel.ForeignKey,
		}
		for _, child := range children {
			if rel.OnDelete == schema.OnDeleteSetNull {
				ck, err := PrimaryKeyOf(target, child)
				if err != nil {
					return nil, err
				}
				step.NullKeys = append(step.NullKeys, ck)
				continue
			}
			// cascade: рекурсивный план ребёнка — его restrict'ы тоже
			// могут отменить всю операцию
			sub, err := PlanDelete(ctx, st, reg, target, child)
			if err != nil {
				return nil, err
			}
			step.SubPlans = append(step.SubPlans, sub)
		}
		plan.Steps = append(plan.Steps, step)
	}

	return plan, nil
}

// Execute применяет план: листья раньше родителей, корень — последним.
// Любая I/O-ошибка после начала исполнения фатальна для всей операции;
// откат здесь не делается — транзакционность, если нужна, оборачивается
// вызывающей стороной на уровне адаптера.
func Execute(ctx context.Context, st Adapter, plan *CascadePlan) (*CascadeResult, error) {
	res := newCascadeResult()
	if err := execute(ctx, st, plan, res); err != nil {
		return nil, err
	}
	return res, nil
}

func execute(ctx context.Context, st Adapter, plan *CascadePlan, res *CascadeResult) error {
	for _, step := range plan.Steps {
		qual := plan.Model.FQN() + "." + step.Relation
		switch step.Action {
		case schema.OnDeleteSetNull:
			for _, ck := range step.NullKeys {
				if _, err := st.Update(ctx, step.Target, ck, storage.Record{step.ForeignKey: nil}); err != nil {
					return err
				}
				res.Nulled[qual]++
			}
		case schema.OnDeleteCascade:
			for _, sub := range step.SubPlans {
				if err := execute(ctx, st, sub, res); err != nil {
					return err
				}
				res.Deleted[qual]++
			}
		}
	}
	// корневая запись — после всех каскадных мутаций
	return st.Delete(ctx, plan.Model, plan.Key)
}

// DeleteWithCascade — план + исполнение одним вызовом.
func DeleteWithCascade(ctx context.Context, st Adapter, reg *schema.Registry, model *schema.Entity, rec storage.Record) (*CascadeResult, error) {
	plan, err := PlanDelete(ctx, st, reg, model, rec)
	if err != nil {
		return nil, err
	}
	return Execute(ctx, st, plan)
}

// cascadeEdge разрешает целевую сущность ребра и значение локального
// ключа родителя.
func cascadeEdge(reg *schema.Registry, model *schema.Entity, rel schema.Relation, rec storage.Record) (*schema.Entity, any, error) {
	target, ok := reg.Resolve(model, rel.Target)
	if !ok {
		return nil, nil, &ConfigurationError{
			Model:  model.FQN(),
			Detail: fmt.Sprintf("relation %q targets unknown entity %q", rel.Name, rel.Target),
		}
	}
	return target, rec[model.LocalKeyOf(rel)], nil
}
