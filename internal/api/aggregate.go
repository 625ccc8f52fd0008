package api

import (
	"net/http"
	"strconv"
	"strings"

	"terem/internal/engine"
	"terem/internal/storage"

	"github.com/gin-gonic/gin"
)

// GET /api/:module/:entity/_aggregate
//
//	?ops=sum:amount,count:*,avg:price:avgPrice
//	&group_by=status,region
//	&sumAmount__gte=1000          ← having: базовое имя — алиас операции
//	&status=active                ← обычный фильтр строк (до агрегации)
//	&order_by=sumAmount&order_dir=desc&limit=10&offset=0
func AggregateHandler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		model, ok := s.entityOf(c.Param("module"), c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		q := c.Request.URL.Query()

		// операции: op:field[:alias]
		var ops []engine.AggregateOp
		for _, raw := range strings.Split(q.Get("ops"), ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			parts := strings.SplitN(raw, ":", 3)
			op := engine.AggregateOp{Op: parts[0]}
			if len(parts) > 1 {
				op.Field = parts[1]
			}
			if len(parts) > 2 {
				op.Alias = parts[2]
			}
			ops = append(ops, op)
		}
		if len(ops) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"errors": []FieldError{ferr(ErrFilterInvalid, "ops", "at least one operation is required (op:field[:alias])")},
			})
			return
		}

		var groupBy []string
		for _, g := range strings.Split(q.Get("group_by"), ",") {
			if g = strings.TrimSpace(g); g != "" {
				groupBy = append(groupBy, g)
			}
		}

		// алиасы нужны, чтобы отличить having-условия от фильтров строк
		aliases := make(map[string]bool, len(ops))
		for _, op := range ops {
			a := op.Alias
			if a == "" {
				a = engine.AliasFor(op.Op, op.Field)
			}
			aliases[a] = true
		}

		aggControl := map[string]struct{}{
			"ops": {}, "group_by": {}, "order_by": {}, "order_dir": {},
		}
		var having []engine.FieldSpec
		var rowSpecs []engine.FieldSpec
		for _, spec := range buildFieldSpecs(q) {
			if _, ctl := aggControl[spec.Field]; ctl {
				continue
			}
			if aliases[spec.Field] {
				having = append(having, spec)
			} else {
				rowSpecs = append(rowSpecs, spec)
			}
		}

		lp := parseListParams(q)
		pred, err := engine.Compile(model, rowSpecs, lp.Q)
		if err != nil {
			abortEngineError(c, err)
			return
		}

		// выборка без пагинации: limit/offset относятся к группам
		recs, err := s.st.Find(c.Request.Context(), model, pred, storage.FindOptions{
			IncludeDeleted: lp.WithDeleted,
			OnlyDeleted:    lp.OnlyDeleted,
		})
		if err != nil {
			abortEngineError(c, err)
			return
		}

		spec := engine.AggregateSpec{
			Ops:       ops,
			GroupBy:   groupBy,
			Having:    having,
			OrderBy:   strings.TrimSpace(q.Get("order_by")),
			OrderDesc: strings.EqualFold(strings.TrimSpace(q.Get("order_dir")), "desc"),
		}
		if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
			spec.Limit = n
		}
		if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
			spec.Offset = n
		}

		res, err := engine.Aggregate(model, recs, spec)
		if err != nil {
			abortEngineError(c, err)
			return
		}

		if !res.Grouped {
			c.JSON(http.StatusOK, res.Values)
			return
		}
		groups := res.Groups
		if groups == nil {
			groups = []map[string]any{}
		}
		c.JSON(http.StatusOK, gin.H{
			"groups":      groups,
			"totalGroups": res.TotalGroups,
		})
	}
}
