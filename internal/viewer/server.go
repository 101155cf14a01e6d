package viewer

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"telegram-archive/internal/config"
)

// NewRouter assembles the gin engine: gin.New() plus Recovery and CORS
// middleware, then every route group registered by h.
func NewRouter(h *Handler, cfg config.ViewerConfig, debug bool) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), cors.New(cors.Config{
		AllowOrigins:     corsOrigins(cfg.CORSOrigins),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	h.RegisterRoutes(router)
	return router
}

// NewInternalRouter builds the minimal engine serving only /internal/push,
// meant to be bound to its own listener socket (INTERNAL_PUSH_ADDR) rather
// than shared with the public-facing router.
func NewInternalRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	h.RegisterInternalRoutes(router)
	return router
}

func corsOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" || raw == "*" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
