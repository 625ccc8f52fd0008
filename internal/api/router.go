// api/router.go
package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter собирает все маршруты. Статические "служебные" — раньше
// параметрических, иначе gin отдаст их в :id.
func NewRouter(s *Server) *gin.Engine {
	r := gin.Default()

	r.GET("/api/meta", MetaListHandler(s))
	r.GET("/api/meta/catalog/:name", MetaCatalogHandler(s))
	r.GET("/api/meta/lookup/:module/:entity", LookupHandler(s))
	r.GET("/api/meta/:module/:entity", MetaEntityHandler(s))
	r.POST("/api/admin/reload", AdminReloadHandler(s))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/:module/:entity/count", CountHandler(s))
		apiGroup.GET("/:module/:entity/_count", CountHandler(s))
		apiGroup.GET("/:module/:entity/_aggregate", AggregateHandler(s))
		apiGroup.POST("/:module/:entity/_bulk", BulkCreateHandler(s))
		apiGroup.PATCH("/:module/:entity/_bulk", BulkPatchHandler(s))
		apiGroup.POST("/:module/:entity/_bulk_delete", BulkDeleteHandler(s))
		apiGroup.POST("/:module/:entity/_bulk_restore", BulkRestoreHandler(s))
		apiGroup.POST("/:module/:entity/:id/restore", RestoreHandler(s))

		// обычные CRUD
		apiGroup.POST("/:module/:entity", CreateHandler(s))
		apiGroup.GET("/:module/:entity", ListHandler(s))
		apiGroup.GET("/:module/:entity/:id", GetOneHandler(s))
		apiGroup.PUT("/:module/:entity/:id", UpdateHandler(s))
		apiGroup.PATCH("/:module/:entity/:id", UpdatePartialHandler(s))
		apiGroup.DELETE("/:module/:entity/:id", DeleteHandler(s))
	}

	return r
}

func RunServer(addr string, s *Server) error {
	return NewRouter(s).Run(addr)
}
