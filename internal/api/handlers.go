package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"terem/internal/engine"
	"terem/internal/storage"

	"github.com/gin-gonic/gin"
)

// POST /api/:module/:entity
func CreateHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}

		applyDefaults(model, obj)

		if ers := checkReadonlyAndSystem(model, obj, true); len(ers) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": ers})
			return
		}

		// явный первичный ключ обязан прийти от клиента
		for _, pk := range model.PrimaryKey {
			if v, ok := obj[pk]; !ok || v == nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"errors": []FieldError{ferr(ErrRequired, pk, "Primary key field '"+pk+"' is required")},
				})
				return
			}
		}

		if errs := s.validateRecord(c.Request.Context(), model, obj, nil); len(errs) > 0 {
			c.JSON(statusForErrors(errs), gin.H{"errors": errs})
			return
		}

		created, err := s.st.Insert(c.Request.Context(), model, obj)
		if err != nil {
			abortEngineError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	}
}

// GET /api/:module/:entity
func ListHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		lp := parseListParams(c.Request.URL.Query())
		pred, err := engine.Compile(model, lp.Specs, lp.Q)
		if err != nil {
			abortEngineError(c, err)
			return
		}

		recs, err := s.st.Find(c.Request.Context(), model, pred, lp.findOptions())
		if err != nil {
			abortEngineError(c, err)
			return
		}

		if len(lp.Include) > 0 {
			if err := engine.ResolveRelations(c.Request.Context(), s.st, s.registry(), model, recs, lp.Include, nil); err != nil {
				abortEngineError(c, err)
				return
			}
		}

		// total — без пагинации, тем же предикатом и той же видимостью
		total, err := s.st.Count(c.Request.Context(), model, pred, lp.countOptions())
		if err != nil {
			abortEngineError(c, err)
			return
		}

		if recs == nil {
			recs = []storage.Record{}
		}
		c.Header("X-Total-Count", strconv.Itoa(total))
		c.JSON(http.StatusOK, recs)
	}
}

// GET /api/:module/:entity/:id
func GetOneHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		rec, err := s.getLive(c.Request.Context(), model, c.Param("id"), false)
		if err != nil {
			abortEngineError(c, err)
			return
		}

		if include := parseListParams(c.Request.URL.Query()).Include; len(include) > 0 {
			if err := engine.ResolveRelations(c.Request.Context(), s.st, s.registry(), model,
				[]storage.Record{rec}, include, nil); err != nil {
				abortEngineError(c, err)
				return
			}
		}

		c.Header("ETag", fmt.Sprintf(`"%d"`, versionOf(rec)))
		c.JSON(http.StatusOK, rec)
	}
}

// PUT /api/:module/:entity/:id — полная замена пользовательских полей
func UpdateHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		updateRecord(s, c, true)
	}
}

// PATCH /api/:module/:entity/:id — частичное обновление
func UpdatePartialHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		updateRecord(s, c, false)
	}
}

func updateRecord(s *Server, c *gin.Context, replace bool) {
	model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
		return
	}

	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	// читаем ожидаемую версию ДО того, как уберём version из payload
	expVer, okExp := readExpectedVersion(c, patch)

	if ers := checkReadonlyAndSystem(model, patch, false); len(ers) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": ers})
		return
	}

	cur, err := s.getLive(c.Request.Context(), model, c.Param("id"), false)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	curVer := versionOf(cur)
	if !okExp || expVer != curVer {
		c.JSON(http.StatusConflict, gin.H{
			"errors": []FieldError{ferr(ErrVersionConflict, "version",
				fmt.Sprintf("expected version %d", curVer))},
		})
		return
	}

	key, err := engine.PrimaryKeyOf(model, cur)
	if err != nil {
		abortEngineError(c, err)
		return
	}

	// merge для валидации: PUT замещает все схемные поля, PATCH — только присланные
	apply := patch
	if replace {
		apply = make(map[string]any, len(model.Fields))
		for _, f := range model.Fields {
			if contains(model.PrimaryKey, f.Name) {
				continue // PK не перезаписывается
			}
			if v, ok := patch[f.Name]; ok {
				apply[f.Name] = v
			} else {
				apply[f.Name] = nil // отсутствие поля в PUT = null
			}
		}
	}
	merged := cur.Clone()
	for k, v := range apply {
		merged[k] = v
	}
	if errs := s.validateRecord(c.Request.Context(), model, merged, key); len(errs) > 0 {
		c.JSON(statusForErrors(errs), gin.H{"errors": errs})
		return
	}
	// валидация нормализует значения в merged — патч берём оттуда
	for k := range apply {
		apply[k] = merged[k]
	}

	updated, err := s.st.Update(c.Request.Context(), model, key, apply)
	if err != nil {
		abortEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DELETE /api/:module/:entity/:id — через Cascade Resolver.
// restrict → 409, set_null/cascade применяются, в ответе сводка.
func DeleteHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}

		rec, err := s.getLive(c.Request.Context(), model, c.Param("id"), false)
		if err != nil {
			abortEngineError(c, err)
			return
		}

		res, err := engine.DeleteWithCascade(c.Request.Context(), s.st, s.registry(), model, rec)
		if err != nil {
			abortEngineError(c, err)
			return
		}

		if len(res.Deleted) == 0 && len(res.Nulled) == 0 {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": res.Deleted, "nulled": res.Nulled})
	}
}

// GET /api/:module/:entity/count (и /_count)
func CountHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		lp := parseListParams(c.Request.URL.Query())
		pred, err := engine.Compile(model, lp.Specs, lp.Q)
		if err != nil {
			abortEngineError(c, err)
			return
		}
		total, err := s.st.Count(c.Request.Context(), model, pred, lp.countOptions())
		if err != nil {
			abortEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"total": total})
	}
}

// POST /api/:module/:entity/:id/restore
func RestoreHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		if model.SoftDelete == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Entity has no soft delete"})
			return
		}
		r, ok := s.st.(Restorer)
		if !ok {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "Backend does not support restore"})
			return
		}

		rec, err := s.getLive(c.Request.Context(), model, c.Param("id"), true)
		if err != nil {
			abortEngineError(c, err)
			return
		}
		key, err := engine.PrimaryKeyOf(model, rec)
		if err != nil {
			abortEngineError(c, err)
			return
		}
		restored, err := r.Restore(c.Request.Context(), model, key)
		if err != nil {
			abortEngineError(c, err)
			return
		}
		c.JSON(http.StatusOK, restored)
	}
}

// /api/meta/lookup/:module/:entity?field=name&q=iva&limit=10
func LookupHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		field := c.DefaultQuery("field", "name")
		q := strings.TrimSpace(c.DefaultQuery("q", ""))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
		if limit <= 0 || limit > 100 {
			limit = 10
		}

		pred := engine.Predicate{}
		if q != "" {
			pred.SearchTerm = q
			pred.SearchFields = []string{field}
		}
		recs, err := s.st.Find(c.Request.Context(), model, pred, storage.FindOptions{Limit: limit})
		if err != nil {
			abortEngineError(c, err)
			return
		}

		pk := model.PrimaryKeyFields()[0]
		type Row struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		}
		out := make([]Row, 0, len(recs))
		for _, r := range recs {
			out = append(out, Row{ID: toString(r[pk]), Label: toString(r[field])})
		}
		c.JSON(http.StatusOK, out)
	}
}

// ==== Версии ====

func versionOf(rec storage.Record) int64 {
	switch t := rec["version"].(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

// readExpectedVersion читает ожидаемую версию из If-Match либо из payload["version"].
func readExpectedVersion(c *gin.Context, payload map[string]any) (int64, bool) {
	// 1) If-Match: допускаем просто число, кавычки и weak-префикс W/"3"
	ifMatch := strings.TrimSpace(c.GetHeader("If-Match"))
	if ifMatch != "" {
		ifMatch = strings.TrimPrefix(ifMatch, "W/")
		ifMatch = strings.Trim(ifMatch, `"'`)
		if v, err := strconv.ParseInt(ifMatch, 10, 64); err == nil {
			return v, true
		}
	}
	// 2) из тела: "version": <int>
	if payload != nil {
		if raw, ok := payload["version"]; ok {
			switch t := raw.(type) {
			case float64:
				return int64(t), true
			case string:
				if v, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
					return v, true
				}
			}
		}
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, it := range list {
		if it == s {
			return true
		}
	}
	return false
}
