package api

import (
	"net/http"
	"strings"

	"terem/internal/schema"

	"github.com/gin-gonic/gin"
)

// ===== META HANDLERS =====

type metaEntityListItem struct {
	Module string `json:"module"`
	Entity string `json:"entity"`
	Fields int    `json:"fields"`
}

func MetaListHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		reg := s.registry()
		out := make([]metaEntityListItem, 0, reg.Len())
		for _, e := range reg.All() {
			out = append(out, metaEntityListItem{Module: e.Module, Entity: e.Name, Fields: len(e.Fields)})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	ElemType string            `json:"elemType,omitempty"`
	Ref      string            `json:"ref,omitempty"`
	RefFQN   string            `json:"refFQN,omitempty"`
	Enum     []string          `json:"enum,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

type metaRelation struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Target     string `json:"target"`
	ForeignKey string `json:"foreignKey,omitempty"`
	LocalKey   string `json:"localKey,omitempty"`
	OnDelete   string `json:"onDelete,omitempty"`
}

type metaEntity struct {
	Module       string         `json:"module"`
	Entity       string         `json:"entity"`
	PrimaryKey   []string       `json:"primaryKey,omitempty"`
	SoftDelete   string         `json:"softDelete,omitempty"`
	DisplayField string         `json:"displayField"`
	Fields       []metaField    `json:"fields"`
	Relations    []metaRelation `json:"relations,omitempty"`
	Constraints  map[string]any `json:"constraints,omitempty"` // {"unique":[["code"],["base","quote"]]}
}

func MetaEntityHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		reg := s.registry()

		fields := make([]metaField, 0, len(model.Fields))
		for _, f := range model.Fields {
			mf := metaField{
				Name:     f.Name,
				Type:     strings.ToLower(f.Type),
				ElemType: f.ElemType,
				Enum:     append([]string(nil), f.Enum...),
				Options:  f.Options,
			}
			if kind := refKind(f); kind != "" {
				mf.Ref = f.RefTarget
				if tgt, ok := reg.Resolve(model, f.RefTarget); ok {
					mf.RefFQN = tgt.FQN()
				}
			}
			fields = append(fields, mf)
		}

		rels := make([]metaRelation, 0, len(model.Relations))
		for _, r := range model.Relations {
			mr := metaRelation{
				Name:       r.Name,
				Kind:       string(r.Kind),
				Target:     r.Target,
				ForeignKey: r.ForeignKey,
				LocalKey:   model.LocalKeyOf(r),
				OnDelete:   string(r.OnDelete),
			}
			if tgt, ok := reg.Resolve(model, r.Target); ok {
				mr.Target = tgt.FQN()
			}
			rels = append(rels, mr)
		}

		var constraints map[string]any
		if len(model.Constraints.Unique) > 0 {
			uniq := make([][]string, 0, len(model.Constraints.Unique))
			for _, set := range model.Constraints.Unique {
				uniq = append(uniq, append([]string(nil), set...))
			}
			constraints = map[string]any{"unique": uniq}
		}

		out := metaEntity{
			Module:       model.Module,
			Entity:       model.Name,
			PrimaryKey:   model.PrimaryKey,
			DisplayField: pickDisplayField(model),
			Fields:       fields,
			Relations:    rels,
			Constraints:  constraints,
		}
		if model.SoftDelete != nil {
			out.SoftDelete = model.SoftDelete.Field
		}
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/meta/catalog/:name — enum-справочник
func MetaCatalogHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		s.mu.RLock()
		dir, ok := s.enums[name]
		s.mu.RUnlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Catalog not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"name":  name,
			"items": dir.Items,
		})
	}
}

// выбираем поле для отображения сущности (для таблиц/ссылок)
func pickDisplayField(e *schema.Entity) string {
	candidates := []string{"name", "title", "email", "code"}
	for _, cand := range candidates {
		if _, ok := e.FieldByName(cand); ok {
			return cand
		}
	}
	for _, f := range e.Fields {
		if f.Type == "string" {
			return f.Name
		}
	}
	return e.PrimaryKeyFields()[0]
}
