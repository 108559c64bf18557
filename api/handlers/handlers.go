package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/local/phenbot/api/config"
	"github.com/local/phenbot/api/db"
	"github.com/local/phenbot/api/models"
	"github.com/local/phenbot/api/services"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	cfg     *config.Config
	study   *services.StudyService
	auth    *services.AuthService
	records *db.Records
}

func New(cfg *config.Config, study *services.StudyService, auth *services.AuthService, records *db.Records) *Handler {
	return &Handler{
		cfg:     cfg,
		study:   study,
		auth:    auth,
		records: records,
	}
}

func (h *Handler) Health(c *gin.Context) {
	status, code, database := "ok", http.StatusOK, "ok"
	if err := h.records.Ping(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("Database ping failed")
		status, code, database = "degraded", http.StatusServiceUnavailable, "unavailable"
	}

	c.JSON(code, gin.H{
		"status":        status,
		"model":         h.cfg.OpenAIModel,
		"provider":      h.study.ProviderName(),
		"ai_configured": h.cfg.AIConfigured(),
		"database":      database,
		"time":          time.Now().UTC().Format(time.RFC3339),
	})
}

type ChatRequest struct {
	Message  string `json:"message"`
	Question string `json:"question"`
	Mode     string `json:"mode"`
	Length   string `json:"length"`
	Subject  string `json:"subject"`
	FileID   string `json:"file_id"`
}

func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	message := req.Message
	if strings.TrimSpace(message) == "" {
		message = req.Question
	}
	action, err := services.NewChatAction(message, req.Mode, req.Length)
	if err != nil {
		respondError(c, err)
		return
	}
	action.Subject = services.ParseSubject(req.Subject)

	// The model call and the writes after it survive a client disconnect.
	ctx := context.WithoutCancel(c.Request.Context())
	p := principalFrom(c)

	if req.FileID != "" {
		doc, err := h.storedDocument(ctx, p, req.FileID)
		if err != nil {
			respondError(c, err)
			return
		}
		action.Document = doc
	}

	reply, err := h.study.Chat(ctx, action)
	if err != nil {
		log.Error().Err(err).Str("action", string(services.ActionChat)).Msg("Chat failed")
		respondError(c, err)
		return
	}

	if p != nil {
		msg := &models.ChatMessage{
			UserID:   p.UserID,
			Subject:  string(action.Subject),
			Mode:     string(action.Mode),
			Length:   string(action.Length),
			Question: action.Message,
			Answer:   reply,
		}
		if err := h.records.RecordChat(ctx, msg); err != nil {
			log.Warn().Err(err).Str("user_id", p.UserID).Msg("Failed to record chat history")
		}
	}

	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

func (h *Handler) ProcessPDF(c *gin.Context) {
	file, ok := h.formFile(c)
	if !ok {
		return
	}

	action, err := services.ParsePDFAction(services.PDFActionParams{
		Action:     c.PostForm("action"),
		NumCards:   c.PostForm("num_cards"),
		Difficulty: c.PostForm("difficulty"),
		Topic:      c.PostForm("topic"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	result, err := h.study.ProcessPDF(ctx, file, action)
	if err != nil {
		log.Error().Err(err).
			Str("action", string(action.Kind())).
			Str("filename", file.Filename).
			Msg("PDF processing failed")
		respondError(c, err)
		return
	}

	if p := principalFrom(c); p != nil {
		if err := h.recordUpload(ctx, p, result.Document); err != nil {
			log.Warn().Err(err).Str("upload_id", result.Document.ID).Msg("Failed to record upload")
		}
	}

	writeResult(c, result)
}

// Upload stores a PDF for later chat, summary or flashcard requests by file_id.
func (h *Handler) Upload(c *gin.Context) {
	file, ok := h.formFile(c)
	if !ok {
		return
	}

	stored, err := h.study.Upload(file)
	if err != nil {
		log.Error().Err(err).Str("filename", file.Filename).Msg("Upload failed")
		respondError(c, err)
		return
	}

	doc := stored.Document
	if err := h.recordUpload(context.WithoutCancel(c.Request.Context()), principalFrom(c), doc); err != nil {
		log.Error().Err(err).Str("upload_id", doc.ID).Msg("Failed to record upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	textLength := 0
	if stored.Text != nil {
		textLength = utf8.RuneCountInString(stored.Text.Text)
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"file_id":        doc.ID,
		"filename":       doc.OriginalName,
		"text_extracted": stored.Text != nil,
		"text_length":    textLength,
	})
}

type FileRequest struct {
	FileID string `json:"file_id" binding:"required"`
}

// SummarizePDF summarizes a previously uploaded file.
func (h *Handler) SummarizePDF(c *gin.Context) {
	var req FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_id required"})
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	doc, err := h.storedDocument(ctx, principalFrom(c), req.FileID)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.study.ProcessDocument(ctx, doc, services.SummarizeAction{})
	if err != nil {
		log.Error().Err(err).Str("upload_id", doc.ID).Msg("Summary of stored file failed")
		respondError(c, err)
		return
	}
	writeResult(c, result)
}

type GenerateFlashcardsRequest struct {
	SourceType     string `json:"source_type"`
	Topic          string `json:"topic"`
	FileID         string `json:"file_id"`
	Subject        string `json:"subject"`
	Difficulty     string `json:"difficulty"`
	Count          int    `json:"count"`
	SaveFlashcards bool   `json:"save_flashcards"`
	Title          string `json:"title"`
}

// GenerateFlashcards builds cards from a topic or a stored file and can save them.
func (h *Handler) GenerateFlashcards(c *gin.Context) {
	var req GenerateFlashcardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	p := principalFrom(c)
	if req.SaveFlashcards && p == nil {
		respondError(c, services.ErrUnauthorized)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	var parsed services.FlashcardParse

	switch strings.ToLower(strings.TrimSpace(req.SourceType)) {
	case "", "topic":
		action, err := services.NewTopicFlashcardsAction(req.Topic, req.Subject, req.Count, req.Difficulty)
		if err != nil {
			respondError(c, err)
			return
		}
		parsed, err = h.study.TopicFlashcards(ctx, action)
		if err != nil {
			log.Error().Err(err).Str("topic", action.Topic).Msg("Topic flashcards failed")
			respondError(c, err)
			return
		}

	case "file":
		if strings.TrimSpace(req.FileID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file_id required for file source"})
			return
		}
		n, err := services.GeneratedCardCount(req.Count)
		if err != nil {
			respondError(c, err)
			return
		}
		difficulty, err := services.ParseDifficulty(req.Difficulty)
		if err != nil {
			respondError(c, err)
			return
		}
		doc, err := h.storedDocument(ctx, p, req.FileID)
		if err != nil {
			respondError(c, err)
			return
		}
		result, err := h.study.ProcessDocument(ctx, doc, services.FlashcardsAction{NumCards: n, Difficulty: difficulty})
		if err != nil {
			log.Error().Err(err).Str("upload_id", doc.ID).Msg("File flashcards failed")
			respondError(c, err)
			return
		}
		parsed = services.FlashcardParse{Parsed: result.Parsed, Flashcards: result.Flashcards, Raw: result.Raw}

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_type must be topic or file"})
		return
	}

	if !parsed.Parsed {
		c.JSON(http.StatusOK, gin.H{"raw": parsed.Raw})
		return
	}

	cards := parsed.Flashcards
	if cards == nil {
		cards = []services.Flashcard{}
	}
	resp := gin.H{"flashcards": cards, "count": len(cards)}

	if req.SaveFlashcards {
		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = "Flashcards - " + time.Now().UTC().Format("2006-01-02")
		}
		rows := make([]models.Flashcard, 0, len(cards))
		for _, card := range cards {
			rows = append(rows, models.Flashcard{
				Title:      title,
				Subject:    string(services.ParseSubject(req.Subject)),
				Question:   card.Question,
				Answer:     card.Answer,
				Difficulty: card.Difficulty,
			})
		}
		if err := h.records.SaveFlashcards(ctx, p.UserID, rows); err != nil {
			log.Error().Err(err).Str("user_id", p.UserID).Msg("Failed to save generated flashcards")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save flashcards"})
			return
		}
		resp["saved"] = len(rows)
	}

	c.JSON(http.StatusOK, resp)
}

// formFile reads the "file" part under the upload size limit. It writes the
// error response itself and reports whether the caller should continue.
func (h *Handler) formFile(c *gin.Context) (*multipart.FileHeader, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadSize)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "File exceeds upload size limit"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return nil, false
	}
	return file, true
}

// storedDocument loads an upload owned by p.
func (h *Handler) storedDocument(ctx context.Context, p *services.Principal, fileID string) (*services.UploadedDocument, error) {
	if p == nil {
		return nil, services.ErrUnauthorized
	}
	file, err := h.records.GetUpload(ctx, p.UserID, fileID)
	if err != nil {
		return nil, err
	}
	return &services.UploadedDocument{
		ID:           file.ID,
		OriginalName: file.OriginalName,
		StoredName:   file.StoredName,
		Path:         file.Path,
		Size:         file.Size,
	}, nil
}

func (h *Handler) recordUpload(ctx context.Context, p *services.Principal, doc *services.UploadedDocument) error {
	if p == nil {
		return services.ErrUnauthorized
	}
	return h.records.RecordUpload(ctx, &models.UploadedFile{
		ID:           doc.ID,
		UserID:       p.UserID,
		OriginalName: doc.OriginalName,
		StoredName:   doc.StoredName,
		Path:         doc.Path,
		Size:         doc.Size,
	})
}

func writeResult(c *gin.Context, result *services.PDFResult) {
	switch {
	case result.Action == services.ActionSummarize:
		c.JSON(http.StatusOK, gin.H{
			"summary":         result.Summary,
			"original_length": result.OriginalLength,
			"truncated":       result.Truncated,
		})
	case result.Parsed:
		cards := result.Flashcards
		if cards == nil {
			cards = []services.Flashcard{}
		}
		c.JSON(http.StatusOK, gin.H{"flashcards": cards, "count": len(cards)})
	default:
		c.JSON(http.StatusOK, gin.H{"raw": result.Raw})
	}
}

// respondError maps an error to its HTTP status and writes {error}.
func respondError(c *gin.Context, err error) {
	status, message := statusFor(err)
	c.JSON(status, gin.H{"error": message})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrUserExists):
		return http.StatusConflict, "Username already exists"
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid username or password"
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "Not found"
	}

	message := services.MessageOf(err)
	switch services.KindOf(err) {
	case services.KindBadInput, services.KindEmptyDocument:
		return http.StatusBadRequest, message
	case services.KindRateLimited:
		return http.StatusTooManyRequests, message
	case services.KindUpstreamUnavailable, services.KindUpstreamError, services.KindUpstreamProtocol:
		return http.StatusBadGateway, message
	default:
		// ExtractionFailure, StorageFailure, AuthMisconfigured and untyped errors
		return http.StatusInternalServerError, message
	}
}
