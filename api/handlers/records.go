package handlers

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/local/phenbot/api/models"
	"github.com/local/phenbot/api/services"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	maxListedFlashcards = 200
)

type FlashcardInput struct {
	Question   string `json:"question" binding:"required"`
	Answer     string `json:"answer" binding:"required"`
	Difficulty string `json:"difficulty"`
}

type SaveFlashcardsRequest struct {
	Title      string           `json:"title"`
	Subject    string           `json:"subject"`
	Flashcards []FlashcardInput `json:"flashcards" binding:"required,min=1,max=50,dive"`
}

func (h *Handler) SaveFlashcards(c *gin.Context) {
	var req SaveFlashcardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cards := make([]models.Flashcard, 0, len(req.Flashcards))
	for _, in := range req.Flashcards {
		q, a := strings.TrimSpace(in.Question), strings.TrimSpace(in.Answer)
		if q == "" || a == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Every flashcard needs a question and an answer"})
			return
		}
		cards = append(cards, models.Flashcard{
			Title:      req.Title,
			Subject:    req.Subject,
			Question:   q,
			Answer:     a,
			Difficulty: strings.ToLower(strings.TrimSpace(in.Difficulty)),
		})
	}

	p := principalFrom(c)
	if err := h.records.SaveFlashcards(c.Request.Context(), p.UserID, cards); err != nil {
		log.Error().Err(err).Str("user_id", p.UserID).Msg("Failed to save flashcards")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save flashcards"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"saved": len(cards)})
}

func (h *Handler) ListFlashcards(c *gin.Context) {
	p := principalFrom(c)
	cards, err := h.records.ListFlashcards(c.Request.Context(), p.UserID, maxListedFlashcards)
	if err != nil {
		log.Error().Err(err).Str("user_id", p.UserID).Msg("Failed to list flashcards")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load flashcards"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flashcards": cards})
}

func (h *Handler) ChatHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil {
		limit = defaultHistoryLimit
	}
	limit = min(max(limit, 1), maxHistoryLimit)

	p := principalFrom(c)
	history, err := h.records.ChatHistory(c.Request.Context(), p.UserID, limit)
	if err != nil {
		log.Error().Err(err).Str("user_id", p.UserID).Msg("Failed to load chat history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load chat history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *Handler) Stats(c *gin.Context) {
	p := principalFrom(c)
	stats, err := h.records.Stats(c.Request.Context(), p.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", p.UserID).Msg("Failed to load stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type StudyTimeRequest struct {
	Minutes int64 `json:"minutes" binding:"required,min=1,max=1440"`
}

func (h *Handler) AddStudyTime(c *gin.Context) {
	var req StudyTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "minutes must be between 1 and 1440"})
		return
	}

	p := principalFrom(c)
	if err := h.records.AddStudyTime(c.Request.Context(), p.UserID, req.Minutes); err != nil {
		log.Error().Err(err).Str("user_id", p.UserID).Msg("Failed to add study time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update stats"})
		return
	}

	h.Stats(c)
}

// DownloadFile serves an upload back to the user who stored it.
func (h *Handler) DownloadFile(c *gin.Context) {
	p := principalFrom(c)
	file, err := h.records.GetUpload(c.Request.Context(), p.UserID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := os.Stat(file.Path); err != nil {
		log.Warn().Err(err).Str("upload_id", file.ID).Msg("Recorded upload missing from disk")
		respondError(c, services.ErrNotFound)
		return
	}
	c.FileAttachment(file.Path, file.OriginalName)
}
