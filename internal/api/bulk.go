package api

import (
	"fmt"
	"net/http"

	"terem/internal/engine"

	"github.com/gin-gonic/gin"
)

// ==== Пакетные операции. Смешанные результаты — 207 Multi-Status ====

// POST /api/:module/:entity/_bulk — массив объектов
func BulkCreateHandler(s *Server) gin.HandlerFunc {
	type bulkResult struct {
		Data   map[string]any `json:"data,omitempty"`
		Errors []FieldError   `json:"errors,omitempty"`
	}
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		var items []map[string]any
		if err := c.ShouldBindJSON(&items); err != nil || len(items) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON array"})
			return
		}

		results := make([]any, 0, len(items))
		for _, obj := range items {
			applyDefaults(model, obj)
			if ers := checkReadonlyAndSystem(model, obj, true); len(ers) > 0 {
				results = append(results, bulkResult{Errors: ers})
				continue
			}
			if errs := s.validateRecord(c.Request.Context(), model, obj, nil); len(errs) > 0 {
				results = append(results, bulkResult{Errors: errs})
				continue
			}
			created, err := s.st.Insert(c.Request.Context(), model, obj)
			if err != nil {
				results = append(results, bulkResult{Errors: []FieldError{ferr(ErrTypeMismatch, "", err.Error())}})
				continue
			}
			results = append(results, bulkResult{Data: created})
		}
		c.JSON(http.StatusMultiStatus, results)
	}
}

// PATCH /api/:module/:entity/_bulk — [{id, patch, version?}] или {ids:[], patch:{}}
func BulkPatchHandler(s *Server) gin.HandlerFunc {
	type itemReq struct {
		ID      string         `json:"id"`
		Patch   map[string]any `json:"patch"`
		Version *int64         `json:"version,omitempty"` // per-item version hint
	}
	type legacyReq struct {
		IDs   []string       `json:"ids"`
		Patch map[string]any `json:"patch"`
	}

	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		var items []itemReq
		if err := c.ShouldBindBodyWithJSON(&items); err != nil {
			// legacy формат: один патч на несколько id (версия не проверяется поштучно)
			var lr legacyReq
			if err := c.ShouldBindBodyWithJSON(&lr); err != nil || len(lr.IDs) == 0 || lr.Patch == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: expected array or {ids:[], patch:{}}"})
				return
			}
			for _, id := range lr.IDs {
				p := make(map[string]any, len(lr.Patch))
				for k, v := range lr.Patch {
					p[k] = v
				}
				items = append(items, itemReq{ID: id, Patch: p})
			}
		}

		results := make([]any, 0, len(items))
		for _, it := range items {
			if it.ID == "" || it.Patch == nil {
				results = append(results, gin.H{"errors": []FieldError{ferr(ErrRequired, "id", "Each item must have id and patch")}})
				continue
			}
			patch := it.Patch

			expVer, haveVer := readExpectedVersion(c, patch)
			if it.Version != nil {
				expVer = *it.Version
				haveVer = true
			}

			if ers := checkReadonlyAndSystem(model, patch, false); len(ers) > 0 {
				results = append(results, gin.H{"id": it.ID, "errors": ers})
				continue
			}

			cur, err := s.getLive(c.Request.Context(), model, it.ID, false)
			if err != nil {
				results = append(results, gin.H{"id": it.ID, "errors": []FieldError{ferr(ErrNotFound, "id", "Record not found")}})
				continue
			}
			curVer := versionOf(cur)
			if haveVer && expVer != curVer {
				results = append(results, gin.H{"id": it.ID, "errors": []FieldError{ferr(ErrVersionConflict, "version",
					fmt.Sprintf("expected version %d", curVer))}})
				continue
			}

			key, err := engine.PrimaryKeyOf(model, cur)
			if err != nil {
				results = append(results, gin.H{"id": it.ID, "errors": []FieldError{ferr(ErrTypeMismatch, "id", err.Error())}})
				continue
			}

			merged := cur.Clone()
			for k, v := range patch {
				merged[k] = v
			}
			if errs := s.validateRecord(c.Request.Context(), model, merged, key); len(errs) > 0 {
				results = append(results, gin.H{"id": it.ID, "errors": errs})
				continue
			}
			for k := range patch {
				patch[k] = merged[k]
			}

			updated, err := s.st.Update(c.Request.Context(), model, key, patch)
			if err != nil {
				results = append(results, gin.H{"id": it.ID, "errors": []FieldError{ferr(ErrTypeMismatch, "", err.Error())}})
				continue
			}
			results = append(results, updated)
		}

		c.JSON(http.StatusMultiStatus, results)
	}
}

// POST /api/:module/:entity/_bulk_delete — {ids:[]}; каждый id через каскад
func BulkDeleteHandler(s *Server) gin.HandlerFunc {
	type req struct {
		IDs []string `json:"ids"`
	}
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		var body req
		if err := c.ShouldBindJSON(&body); err != nil || len(body.IDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: expected {ids:[]}"})
			return
		}

		results := make([]any, 0, len(body.IDs))
		for _, id := range body.IDs {
			rec, err := s.getLive(c.Request.Context(), model, id, false)
			if err != nil {
				results = append(results, gin.H{"id": id, "errors": []FieldError{ferr(ErrNotFound, "id", "Record not found")}})
				continue
			}
			res, err := engine.DeleteWithCascade(c.Request.Context(), s.st, s.registry(), model, rec)
			if err != nil {
				if conflict, ok := err.(*engine.ConflictError); ok {
					results = append(results, gin.H{"id": id, "errors": []FieldError{{
						Code:    ErrFKInUse,
						Field:   conflict.Relation,
						Message: conflict.Error(),
					}}})
					continue
				}
				results = append(results, gin.H{"id": id, "errors": []FieldError{ferr(ErrTypeMismatch, "", err.Error())}})
				continue
			}
			results = append(results, gin.H{"id": id, "deleted": res.Deleted, "nulled": res.Nulled})
		}

		c.JSON(http.StatusMultiStatus, results)
	}
}

// POST /api/:module/:entity/_bulk_restore — {ids:[]}
func BulkRestoreHandler(s *Server) gin.HandlerFunc {
	type req struct {
		IDs []string `json:"ids"`
	}
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		r, okR := s.st.(Restorer)
		if model.SoftDelete == nil || !okR {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Entity has no soft delete"})
			return
		}

		var body req
		if err := c.ShouldBindJSON(&body); err != nil || len(body.IDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: expected {ids:[]}"})
			return
		}

		results := make([]any, 0, len(body.IDs))
		for _, id := range body.IDs {
			rec, err := s.getLive(c.Request.Context(), model, id, true)
			if err != nil {
				results = append(results, gin.H{"id": id, "errors": []FieldError{ferr(ErrNotFound, "id", "Record not found")}})
				continue
			}
			key, err := engine.PrimaryKeyOf(model, rec)
			if err != nil {
				results = append(results, gin.H{"id": id, "errors": []FieldError{ferr(ErrTypeMismatch, "id", err.Error())}})
				continue
			}
			if _, err := r.Restore(c.Request.Context(), model, key); err != nil {
				results = append(results, gin.H{"id": id, "errors": []FieldError{ferr(ErrTypeMismatch, "", err.Error())}})
				continue
			}
			results = append(results, gin.H{"id": id})
		}

		c.JSON(http.StatusMultiStatus, results)
	}
}
