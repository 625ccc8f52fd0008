package api

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"terem/internal/engine"
	"terem/internal/schema"
	"terem/internal/storage"
)

// validateRecord валидирует и НОРМАЛИЗУЕТ obj под схему.
// excludeKey — ключ текущей записи при обновлении (исключаем из unique-поиска).
func (s *Server) validateRecord(
	ctx context.Context,
	model *schema.Entity,
	obj map[string]any,
	excludeKey storage.Key,
) []FieldError {
	var errs []FieldError

	// 1) required
	for _, f := range model.Fields {
		if f.Options != nil && strings.EqualFold(f.Options["required"], "true") {
			if v, ok := obj[f.Name]; !ok || v == nil {
				errs = append(errs, ferr(ErrRequired, f.Name, "Field '"+f.Name+"' is required"))
			}
		}
	}

	// 2) строгая проверка типов и нормализация значений
	for name, val := range obj {
		f, ok := model.FieldByName(name)
		if !ok {
			// неизвестные поля игнорируем
			continue
		}
		if val == nil {
			if !model.IsNullable(name) {
				errs = append(errs, ferr(ErrTypeMismatch, name, "Field '"+name+"' is not nullable"))
			}
			continue
		}
		norm, err := coerceValue(f, val)
		if err != nil {
			errs = append(errs, ferr(ErrTypeMismatch, name, "Field '"+name+"' "+err.Error()))
			continue
		}
		obj[name] = norm
	}

	// 3) enum (строгое соответствие одному из значений)
	for _, f := range model.Fields {
		if len(f.Enum) == 0 {
			continue
		}
		if v, ok := obj[f.Name]; ok && v != nil {
			s := fmt.Sprintf("%v", v)
			found := false
			for _, ev := range f.Enum {
				if s == ev {
					found = true
					break
				}
			}
			if !found {
				errs = append(errs, ferr(ErrEnumInvalid, f.Name, "Invalid value for '"+f.Name+"'"))
			}
		}
	}

	if len(errs) > 0 {
		// дальше — запросы к хранилищу; нет смысла гонять их с битым объектом
		return errs
	}

	// 4) unique (конфликт целостности → 409)
	for _, f := range model.Fields {
		if f.Options == nil || !strings.EqualFold(f.Options["unique"], "true") {
			continue
		}
		v, ok := obj[f.Name]
		if !ok || v == nil {
			continue
		}
		if s.violatesUnique(ctx, model, []string{f.Name}, []any{v}, excludeKey) {
			errs = append(errs, ferr(ErrUniqueViolation, f.Name, "Field '"+f.Name+"' must be unique"))
		}
	}

	// 4.1) composite unique (constraints.unique)
	for _, set := range model.Constraints.Unique {
		if len(set) == 0 {
			continue
		}
		vals := make([]any, len(set))
		allPresent := true
		for i, fname := range set {
			v, ok := obj[fname]
			if !ok || v == nil {
				allPresent = false
				break
			}
			vals[i] = v
		}
		if !allPresent {
			continue
		}
		if s.violatesUnique(ctx, model, set, vals, excludeKey) {
			errs = append(errs, ferr(ErrUniqueViolation, set[0],
				fmt.Sprintf("Fields %v must be unique together", set)))
		}
	}

	// 5) ref — проверка существования ссылок (single и array)
	reg := s.registry()
	for _, f := range model.Fields {
		kind := refKind(f)
		if kind == "" {
			continue
		}
		target, ok := reg.Resolve(model, f.RefTarget)
		if !ok {
			errs = append(errs, ferr(ErrRefNotFound, f.Name, "Unknown target entity '"+f.RefTarget+"'"))
			continue
		}

		v, ok := obj[f.Name]
		if !ok || v == nil {
			continue
		}

		switch kind {
		case "ref":
			id, _ := v.(string)
			if id == "" || !s.refExists(ctx, target, id) {
				errs = append(errs, ferr(ErrRefNotFound, f.Name, "Referenced '"+target.FQN()+"' not found"))
			}
		case "array_ref":
			arr, ok := v.([]any)
			if !ok {
				errs = append(errs, ferr(ErrTypeMismatch, f.Name, "Field '"+f.Name+"' must be an array of ids"))
				continue
			}
			for _, it := range arr {
				id, _ := it.(string)
				if id == "" || !s.refExists(ctx, target, id) {
					errs = append(errs, ferr(ErrRefNotFound, f.Name, "Referenced '"+target.FQN()+"' not found"))
					break
				}
			}
		}
	}

	return errs
}

func refKind(f schema.Field) string {
	if strings.EqualFold(f.Type, "ref") && f.RefTarget != "" {
		return "ref"
	}
	if strings.EqualFold(f.Type, "array") && strings.EqualFold(f.ElemType, "ref") && f.RefTarget != "" {
		return "array_ref"
	}
	return ""
}

// violatesUnique проверяет через адаптер, занято ли сочетание значений
// другой живой записью. Self исключается сравнением первичного ключа:
// предикат этого выразить не может (составной PK).
func (s *Server) violatesUnique(ctx context.Context, model *schema.Entity, fields []string, values []any, excludeKey storage.Key) bool {
	conds := make([]engine.Condition, 0, len(fields))
	for i, fname := range fields {
		conds = append(conds, engine.Condition{
			Field:  fname,
			Op:     engine.OpEq,
			Values: []string{storage.Stringify(values[i])},
			Type:   engine.FieldType(model, fname),
		})
	}
	recs, err := s.st.Find(ctx, model, engine.Predicate{Conds: conds}, storage.FindOptions{Limit: 2})
	if err != nil {
		return false
	}
	for _, rec := range recs {
		if excludeKey != nil {
			key, err := engine.PrimaryKeyOf(model, rec)
			if err == nil && key.KeyString() == excludeKey.KeyString() {
				continue
			}
		}
		return true
	}
	return false
}

// refExists — батчевый примитив на одном значении
func (s *Server) refExists(ctx context.Context, target *schema.Entity, id string) bool {
	pk := target.PrimaryKeyFields()
	recs, err := s.st.FindByKeys(ctx, target, pk[0], []any{id})
	return err == nil && len(recs) > 0
}

// ==== Коэрсинг значений ====

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`) // YYYY-MM-DD

func coerceValue(f schema.Field, v any) (any, error) {
	switch strings.ToLower(f.Type) {
	case "string":
		return toStringStrict(v)
	case "int":
		return toIntStrict(v)
	case "float", "money":
		return toFloatStrict(v)
	case "bool":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, errors.New("must be boolean")
	case "date":
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if !dateRe.MatchString(s) {
			return nil, errors.New("must match YYYY-MM-DD")
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, errors.New("invalid date")
		}
		return s, nil
	case "datetime":
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, errors.New("must be RFC3339 datetime")
		}
		return s, nil
	case "enum":
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		for _, ev := range f.Enum {
			if s == ev {
				return s, nil
			}
		}
		return nil, fmt.Errorf("value '%s' is not allowed", s)
	case "ref":
		// ожидаем строковый id; существование проверяется отдельно
		return toStringStrict(v)
	case "array":
		arr, ok := v.([]any)
		if !ok {
			return nil, errors.New("must be array")
		}
		elemField := schema.Field{
			Type:      f.ElemType,
			Enum:      f.Enum,
			RefTarget: f.RefTarget,
		}
		out := make([]any, 0, len(arr))
		for i, ev := range arr {
			norm, err := coerceValue(elemField, ev)
			if err != nil {
				return nil, fmt.Errorf("array element %d: %v", i, err)
			}
			out = append(out, norm)
		}
		return out, nil
	default:
		// неизвестный тип — оставим как есть
		return v, nil
	}
}

func toStringStrict(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.New("must be string")
}

func toIntStrict(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		// JSON числа приходят как float64 — проверяем целостность
		if t != float64(int64(t)) {
			return 0, errors.New("must be integer")
		}
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	default:
		return 0, errors.New("must be integer")
	}
}

func toFloatStrict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, errors.New("must be float")
		}
		return f, nil
	default:
		return 0, errors.New("must be float")
	}
}

// applyDefaults подставляет default= для отсутствующих полей (на Create)
func applyDefaults(model *schema.Entity, obj map[string]any) {
	for _, f := range model.Fields {
		if f.Options == nil {
			continue
		}
		def, ok := f.Options["default"]
		if !ok || def == "" {
			continue
		}
		if _, exists := obj[f.Name]; exists {
			continue
		}
		// дефолт приходит строкой — coerceValue сам ругнётся, если не влезет
		if v, err := coerceValue(f, any(def)); err == nil {
			obj[f.Name] = v
		}
	}
}

// checkReadonlyAndSystem запрещает клиенту задавать системные и readonly
// поля. Особый случай: "version" разрешаем как hint для optimistic lock,
// но снимаем из payload, чтобы не записать в хранилище.
func checkReadonlyAndSystem(model *schema.Entity, obj map[string]any, isCreate bool) (errs []FieldError) {
	sys := []string{"created_at", "updated_at", "version"}
	if len(model.PrimaryKey) == 0 {
		sys = append(sys, "id")
	}
	for _, k := range sys {
		if _, ok := obj[k]; ok {
			if k == "version" {
				delete(obj, k)
				continue
			}
			errs = append(errs, ferr(ErrReadOnly, k, "Field '"+k+"' is read-only"))
		}
	}
	for _, f := range model.Fields {
		if f.Options != nil && strings.EqualFold(f.Options["readonly"], "true") {
			if _, ok := obj[f.Name]; ok && !isCreate {
				errs = append(errs, ferr(ErrReadOnly, f.Name, "Field '"+f.Name+"' is read-only"))
			}
		}
	}
	return
}
