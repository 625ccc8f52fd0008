package engine

import "fmt"

// Таксономия ошибок движка. Все ошибки синхронные, ничего не
// логируется и не глотается внутри; I/O-ошибки адаптера
// пробрасываются как есть.

// ValidationError — некорректный запрос: неизвестное поле или связь,
// несовместимая пара оператор/значение, кривая спецификация агрегации.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: field %q: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

func validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError — restrict-политика заблокировала удаление.
// Несёт имя связи и количество зависимых записей.
type ConflictError struct {
	Relation   string
	Dependents int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: relation %q blocks delete (%d dependent records)", e.Relation, e.Dependents)
}

// NotFoundError — запись или сущность не найдена.
type NotFoundError struct {
	Model string
	Key   string
}

func (e *NotFoundError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("not found: %s %q", e.Model, e.Key)
	}
	return fmt.Sprintf("not found: %s", e.Model)
}

// ConfigurationError — ошибка конфигурации схемы, обнаруженная при
// первом использовании (например, set_null на ненулевом FK или
// неразрешимая целевая сущность). Это ошибка программиста, не запроса.
type ConfigurationError struct {
	Model  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Model, e.Detail)
}
