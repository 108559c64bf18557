package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/local/phenbot/api/config"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// multipartMemory caps the in-memory part of a parsed form; larger files
// spill to temp files. The total body size is limited separately.
const multipartMemory = 8 << 20

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(h *Handler, cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())
	router.MaxMultipartMemory = multipartMemory

	// Configure CORS
	corsCfg := cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	}
	router.Use(cors.New(corsCfg))

	router.Use(h.OptionalAuth())

	router.GET("/files/:id", RequireAuth(), h.DownloadFile)

	api := router.Group("/api")
	{
		api.GET("/health", h.Health)
		api.POST("/chat", h.Chat)
		api.POST("/ask", h.Chat)
		api.POST("/process_pdf", h.ProcessPDF)
		api.POST("/generate_flashcards", h.GenerateFlashcards)

		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
	}

	authed := api.Group("", RequireAuth())
	{
		authed.POST("/logout", h.Logout)
		authed.GET("/me", h.Me)
		authed.POST("/upload", h.Upload)
		authed.POST("/summarize_pdf", h.SummarizePDF)
		authed.POST("/flashcards", h.SaveFlashcards)
		authed.GET("/flashcards", h.ListFlashcards)
		authed.GET("/chat_history", h.ChatHistory)
		authed.GET("/stats", h.Stats)
		authed.POST("/stats/study_time", h.AddStudyTime)
	}

	return router
}

// RequestLogger logs one line per request and tags it with a request id.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(requestIDHeader, id)

		c.Next()

		status := c.Writer.Status()
		evt := log.Info()
		switch {
		case status >= 500:
			evt = log.Error()
		case status >= 400:
			evt = log.Warn()
		}
		evt.Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}
