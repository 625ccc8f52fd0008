package api

import (
	"net/http"
	"strings"

	"terem/internal/reference"
	"terem/internal/schema"

	"github.com/gin-gonic/gin"
)

type reloadReq struct {
	DSLRoot   string `json:"dsl_root"`   // директория с *.dsl
	EnumsRoot string `json:"enums_root"` // директория со справочниками enum
}

// POST /api/admin/reload — перечитать схемы и справочники.
// Новый реестр подменяется атомарно и только если линтер чистый.
func AdminReloadHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reloadReq
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}

		dslRoot := strings.TrimSpace(req.DSLRoot)
		if dslRoot == "" {
			dslRoot = s.DSLRoot
		}
		enumsRoot := strings.TrimSpace(req.EnumsRoot)
		if enumsRoot == "" {
			enumsRoot = s.EnumsRoot
		}

		entities, err := schema.LoadAllEntities(dslRoot)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "DSL load error", "details": err.Error()})
			return
		}
		enums, err := reference.LoadEnumCatalog(enumsRoot)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Enum load error", "details": err.Error()})
			return
		}

		reg := schema.NewRegistry(entities)
		if issues := reg.Lint(); len(issues) > 0 {
			out := make([]gin.H, 0, len(issues))
			for _, it := range issues {
				out = append(out, gin.H{
					"entity":  it.Entity,
					"field":   it.Field,
					"message": it.Message,
					"code":    it.Code,
				})
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "schema has blocking issues",
				"issues":  out,
				"hint":    "fix DSL and retry",
				"dslRoot": dslRoot, "enumsRoot": enumsRoot,
			})
			return
		}

		// атомарная замена под write-lock
		s.mu.Lock()
		s.reg = reg
		s.enums = enums
		s.mu.Unlock()

		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"dslRoot":    dslRoot,
			"enumsRoot":  enumsRoot,
			"entities":   reg.Len(),
			"enumGroups": len(enums),
		})
	}
}
