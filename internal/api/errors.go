package api

import (
	"errors"
	"net/http"

	"terem/internal/engine"

	"github.com/gin-gonic/gin"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок, которыми будем пользоваться
const (
	ErrRequired        = "required"
	ErrTypeMismatch    = "type_mismatch"
	ErrEnumInvalid     = "enum_invalid"
	ErrUniqueViolation = "unique_violation"
	ErrRefNotFound     = "ref_not_found"
	ErrNotFound        = "not_found"
	ErrReadOnly        = "readonly_field"
	ErrVersionConflict = "version_conflict"
	ErrFilterInvalid   = "filter_invalid"
	ErrFKInUse         = "fk_in_use"
)

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

func statusForErrors(errs []FieldError) int {
	// 409, если есть конфликтные ошибки (unique/ref)
	for _, e := range errs {
		if e.Code == ErrUniqueViolation || e.Code == ErrRefNotFound {
			return http.StatusConflict
		}
	}
	return http.StatusBadRequest
}

// abortEngineError транслирует типизированные ошибки движка в HTTP.
func abortEngineError(c *gin.Context, err error) {
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{
			"errors": []FieldError{ferr(ErrFilterInvalid, ve.Field, ve.Message)},
		})
		return
	}
	var nf *engine.NotFoundError
	if errors.As(err, &nf) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	var conflict *engine.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{
			"errors": []FieldError{{
				Code:    ErrFKInUse,
				Field:   conflict.Relation,
				Message: conflict.Error(),
			}},
			"relation":   conflict.Relation,
			"dependents": conflict.Dependents,
		})
		return
	}
	var cfg *engine.ConfigurationError
	if errors.As(err, &cfg) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": cfg.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
