package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/local/phenbot/api/config"
	"github.com/local/phenbot/api/db"
	"github.com/local/phenbot/api/services"
	"github.com/local/phenbot/api/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubAI struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   []services.ModelEnvelope
	ctxErrs []error
	// onCall runs before the reply is returned.
	onCall func()
}

func (s *stubAI) Complete(ctx context.Context, env services.ModelEnvelope) (string, error) {
	if s.onCall != nil {
		s.onCall()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, env)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.reply, s.err
}

func (s *stubAI) GetProviderName() string { return "stub" }

func (s *stubAI) lastCall(t *testing.T) services.ModelEnvelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.calls, "model was never called")
	return s.calls[len(s.calls)-1]
}

type testServer struct {
	router    *gin.Engine
	records   *db.Records
	ai        *stubAI
	uploadDir string
	closeDB   func()
}

func setupTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		OpenAIAPIKey:   "test-key",
		OpenAIModel:    "test-model",
		UploadDir:      t.TempDir(),
		SessionTTL:     time.Hour,
		MaxUploadSize:  32 << 20,
		CharBudget:     services.DefaultCharBudget,
		AllowedOrigins: []string{"http://localhost:5173"},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	database, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	closeDB := func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	}
	t.Cleanup(closeDB)

	records := db.NewRecords(database)
	ai := &stubAI{}
	study := services.NewStudyService(
		services.NewUploadSink(cfg.UploadDir),
		services.NewPromptComposer(cfg.OpenAIModel),
		ai,
		cfg.CharBudget,
	)
	auth := services.NewAuthService(records, db.NewSQLSessions(database), "test-secret", cfg.SessionTTL).
		WithBcryptCost(bcrypt.MinCost)

	return &testServer{
		router:    NewRouter(New(cfg, study, auth, records), cfg),
		records:   records,
		ai:        ai,
		uploadDir: cfg.UploadDir,
		closeDB:   closeDB,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path string, body any, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string, token string) *http.Request {
	t.Helper()
	return uploadRequestTo(t, "/api/process_pdf", filename, content, fields, token)
}

func uploadRequestTo(t *testing.T, path, filename string, content []byte, fields map[string]string, token string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if content != nil {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func register(t *testing.T, s *testServer, username string) string {
	t.Helper()
	w := s.do(jsonRequest(t, http.MethodPost, "/api/register",
		map[string]string{"username": username, "password": "secret-pass"}, ""))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, "stub", body["provider"])
	assert.Equal(t, true, body["ai_configured"])
	assert.Equal(t, "ok", body["database"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestHealth_DatabaseUnavailable(t *testing.T) {
	s := setupTestServer(t)
	s.closeDB()

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unavailable", body["database"])
}

func TestChat_DefaultPersona(t *testing.T) {
	s := setupTestServer(t)
	s.ai.reply = "ok"

	w := s.do(jsonRequest(t, http.MethodPost, "/api/chat", map[string]string{"message": "What is entropy?"}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reply":"ok"}`, w.Body.String())

	env := s.ai.lastCall(t)
	assert.Equal(t, services.PersonaNormal.SystemPrompt(), env.System())
	assert.Equal(t, "What is entropy?", env.User())
}

func TestChat_BlankMessage(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(jsonRequest(t, http.MethodPost, "/api/chat", map[string]string{"message": "   "}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"No message"}`, w.Body.String())
	assert.Empty(t, s.ai.calls)
}

func TestChat_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"rate limited", services.NewError(services.KindRateLimited, "Rate limited"), http.StatusTooManyRequests},
		{"unavailable", services.NewError(services.KindUpstreamUnavailable, "AI service unavailable"), http.StatusBadGateway},
		{"provider error", services.NewError(services.KindUpstreamError, "AI service error: boom"), http.StatusBadGateway},
		{"protocol", services.NewError(services.KindUpstreamProtocol, "Empty reply"), http.StatusBadGateway},
		{"misconfigured", services.NewError(services.KindAuthMisconfigured, "AI service is not configured"), http.StatusInternalServerError},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t)
			s.ai.err = tt.err

			w := s.do(jsonRequest(t, http.MethodPost, "/api/chat", map[string]string{"message": "hi"}, ""))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, services.MessageOf(tt.err), decode(t, w)["error"])
		})
	}
}

func TestProcessPDF_Summarize(t *testing.T) {
	s := setupTestServer(t)
	s.ai.reply = "OVERVIEW...KEY IDEAS...WHY IT MATTERS..."
	text := "Photosynthesis converts light to chemical energy."

	w := s.do(uploadRequest(t, "bio.pdf", testutil.BuildPDF(text), map[string]string{"action": "summarize"}, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "OVERVIEW...KEY IDEAS...WHY IT MATTERS...", body["summary"])
	assert.Equal(t, false, body["truncated"])

	user := s.ai.lastCall(t).User()
	assert.Contains(t, user, "Document:")
	assert.Contains(t, user, text)
}

func TestProcessPDF_DefaultActionIsSummarize(t *testing.T) {
	s := setupTestServer(t)
	s.ai.reply = "summary"

	w := s.do(uploadRequest(t, "notes.pdf", testutil.BuildPDF("Some notes."), nil, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "summary", decode(t, w)["summary"])
}

func TestProcessPDF_Flashcards(t *testing.T) {
	s := setupTestServer(t)
	s.ai.reply = "```json\n[" +
		`{"question":"What is a cell?","answer":"The basic unit of life.","difficulty":"hard"},` +
		`{"question":"What is a nucleus?","answer":"The control center of a cell.","difficulty":"hard"}` +
		"]\n```"

	fields := map[string]string{"action": "flashcards", "num_cards": "2", "difficulty": "hard", "topic": "cells"}
	w := s.do(uploadRequest(t, "cells.pdf", testutil.BuildPDF("Cells are the basic unit of life."), fields, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	cards, ok := body["flashcards"].([]any)
	require.True(t, ok)
	require.Len(t, cards, 2)
	assert.Equal(t, float64(2), body["count"])
	first := cards[0].(map[string]any)
	assert.Equal(t, "What is a cell?", first["question"])
	assert.Equal(t, "hard", first["difficulty"])

	user := s.ai.lastCall(t).User()
	assert.Contains(t, user, "Create exactly 2 flashcards")
	assert.Contains(t, user, "hard")
	assert.Contains(t, user, "cells")
}

func TestProcessPDF_FlashcardsRawFallback(t *testing.T) {
	s := setupTestServer(t)
	s.ai.reply = "I'm sorry, I can't."

	w := s.do(uploadRequest(t, "cells.pdf", testutil.BuildPDF("Cells."), map[string]string{"action": "flashcards"}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"raw":"I'm sorry, I can't."}`, w.Body.String())
}

func TestProcessPDF_EmptyDocument(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(uploadRequest(t, "blank.pdf", testutil.BuildPDF("   "), map[string]string{"action": "summarize"}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"No text could be extracted from this PDF."}`, w.Body.String())
	assert.Empty(t, s.ai.calls)
}

func TestProcessPDF_BadInput(t *testing.T) {
	pdf := testutil.BuildPDF("Some text.")

	tests := []struct {
		name     string
		filename string
		content  []byte
		fields   map[string]string
		status   int
		message  string
	}{
		{"missing file", "", nil, map[string]string{"action": "summarize"}, http.StatusBadRequest, "No file provided"},
		{"wrong extension", "notes.txt", []byte("hello"), nil, http.StatusBadRequest, "Only PDF files are allowed"},
		{"unknown action", "a.pdf", pdf, map[string]string{"action": "translate"}, http.StatusBadRequest, `Unknown action "translate"`},
		{"num_cards not a number", "a.pdf", pdf, map[string]string{"action": "flashcards", "num_cards": "ten"}, http.StatusBadRequest, "num_cards must be an integer"},
		{"num_cards out of range", "a.pdf", pdf, map[string]string{"action": "flashcards", "num_cards": "51"}, http.StatusBadRequest, "num_cards must be between 1 and 50"},
		{"not a pdf", "fake.pdf", []byte("plain text"), nil, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t)
			s.ai.reply = "unused"

			w := s.do(uploadRequest(t, tt.filename, tt.content, tt.fields, ""))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.message != "" {
				assert.Equal(t, tt.message, decode(t, w)["error"])
			}
			assert.Empty(t, s.ai.calls)
		})
	}
}

func TestAuth_RegisterLoginLogout(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "alice")

	w := s.do(jsonRequest(t, http.MethodPost, "/api/register",
		map[string]string{"username": "alice", "password": "another-pass"}, ""))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Username already exists", decode(t, w)["error"])

	w = s.do(jsonRequest(t, http.MethodPost, "/api/login",
		map[string]string{"username": "alice", "password": "wrong-pass"}, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/login",
		map[string]string{"username": "alice", "password": "secret-pass"}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	user := decode(t, w)["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])

	w = s.do(jsonRequest(t, http.MethodGet, "/api/me", nil, token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode(t, w)["username"])

	w = s.do(jsonRequest(t, http.MethodPost, "/api/logout", nil, token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = s.do(jsonRequest(t, http.MethodGet, "/api/me", nil, token))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Authentication required"}`, w.Body.String())
}

func TestAuth_RegisterValidation(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(jsonRequest(t, http.MethodPost, "/api/register", map[string]string{"username": "al", "password": "secret-pass"}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/register", map[string]string{"username": "alice"}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	s := setupTestServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/me"},
		{http.MethodPost, "/api/logout"},
		{http.MethodGet, "/api/flashcards"},
		{http.MethodPost, "/api/flashcards"},
		{http.MethodGet, "/api/chat_history"},
		{http.MethodGet, "/api/stats"},
		{http.MethodPost, "/api/stats/study_time"},
		{http.MethodPost, "/api/upload"},
		{http.MethodPost, "/api/summarize_pdf"},
		{http.MethodGet, "/files/abc"},
	} {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			w := s.do(jsonRequest(t, route.method, route.path, nil, "not-a-token"))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"Authentication required"}`, w.Body.String())
		})
	}
}

func TestChat_AuthenticatedRecordsHistory(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "bob")
	s.ai.reply = "Entropy measures disorder."

	for _, msg := range []string{"What is entropy?", "And enthalpy?"} {
		w := s.do(jsonRequest(t, http.MethodPost, "/api/chat", map[string]string{"message": msg, "mode": "teach"}, token))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do(jsonRequest(t, http.MethodGet, "/api/chat_history?limit=1", nil, token))
	require.Equal(t, http.StatusOK, w.Code)
	history := decode(t, w)["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "teach", history[0].(map[string]any)["mode"])

	w = s.do(jsonRequest(t, http.MethodGet, "/api/chat_history?limit=abc", nil, token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["history"].([]any), 2)

	w = s.do(jsonRequest(t, http.MethodGet, "/api/stats", nil, token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["questions_asked"])
}

func TestFlashcards_SaveAndList(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "carol")

	payload := map[string]any{
		"title":   "Biology",
		"subject": "science",
		"flashcards": []map[string]string{
			{"question": "What is a cell?", "answer": "The basic unit of life.", "difficulty": "easy"},
			{"question": "What is DNA?", "answer": "Genetic material.", "difficulty": "Medium"},
		},
	}
	w := s.do(jsonRequest(t, http.MethodPost, "/api/flashcards", payload, token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"saved":2}`, w.Body.String())

	w = s.do(jsonRequest(t, http.MethodGet, "/api/flashcards", nil, token))
	require.Equal(t, http.StatusOK, w.Code)
	cards := decode(t, w)["flashcards"].([]any)
	require.Len(t, cards, 2)
	assert.Equal(t, "Biology", cards[0].(map[string]any)["title"])

	w = s.do(jsonRequest(t, http.MethodGet, "/api/stats", nil, token))
	assert.Equal(t, float64(2), decode(t, w)["concepts_learned"])

	t.Run("rejects empty list", func(t *testing.T) {
		w := s.do(jsonRequest(t, http.MethodPost, "/api/flashcards", map[string]any{"flashcards": []any{}}, token))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects blank answer", func(t *testing.T) {
		body := map[string]any{"flashcards": []map[string]string{{"question": "q", "answer": "   "}}}
		w := s.do(jsonRequest(t, http.MethodPost, "/api/flashcards", body, token))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStudyTime(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "dave")

	w := s.do(jsonRequest(t, http.MethodPost, "/api/stats/study_time", map[string]int{"minutes": 45}, token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(45), decode(t, w)["study_time"])

	for _, minutes := range []int{0, -5, 1441} {
		w := s.do(jsonRequest(t, http.MethodPost, "/api/stats/study_time", map[string]int{"minutes": minutes}, token))
		assert.Equal(t, http.StatusBadRequest, w.Code, "minutes=%d", minutes)
	}
}

func TestProcessPDF_AuthenticatedUploadIsDownloadableByOwnerOnly(t *testing.T) {
	s := setupTestServer(t)
	owner := register(t, s, "erin")
	other := register(t, s, "frank")
	s.ai.reply = "summary"
	pdf := testutil.BuildPDF("Owned content.")

	w := s.do(uploadRequest(t, "owned.pdf", pdf, nil, owner))
	require.Equal(t, http.StatusOK, w.Code)

	entries, err := os.ReadDir(s.uploadDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	uploadID := entries[0].Name()[:32]

	w = s.do(jsonRequest(t, http.MethodGet, "/files/"+uploadID, nil, owner))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pdf, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "owned.pdf")

	w = s.do(jsonRequest(t, http.MethodGet, "/files/"+uploadID, nil, other))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestID_Echoed(t *testing.T) {
	s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := s.do(req)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
}

func TestChat_ClientDisconnectStillRecordsHistory(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "gina")
	s.ai.reply = "Still answered."

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.ai.onCall = cancel

	req := jsonRequest(t, http.MethodPost, "/api/chat", map[string]string{"message": "What is osmosis?"}, token)
	w := s.do(req.WithContext(ctx))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Error(t, ctx.Err())
	assert.Equal(t, []error{nil}, s.ai.ctxErrs)

	s.ai.onCall = nil
	w = s.do(jsonRequest(t, http.MethodGet, "/api/chat_history", nil, token))
	require.Equal(t, http.StatusOK, w.Code)
	history := decode(t, w)["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "Still answered.", history[0].(map[string]any)["answer"])
}

func uploadStored(t *testing.T, s *testServer, token, text string) string {
	t.Helper()
	w := s.do(uploadRequestTo(t, "/api/upload", "notes.pdf", testutil.BuildPDF(text), nil, token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "notes.pdf", body["filename"])
	id, _ := body["file_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestUpload(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "hana")

	w := s.do(uploadRequestTo(t, "/api/upload", "notes.pdf", testutil.BuildPDF("Mitochondria make ATP."), nil, token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["text_extracted"])
	assert.Greater(t, body["text_length"].(float64), float64(0))

	id := body["file_id"].(string)
	w = s.do(jsonRequest(t, http.MethodGet, "/files/"+id, nil, token))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.ai.calls)

	t.Run("keeps a file without text", func(t *testing.T) {
		w := s.do(uploadRequestTo(t, "/api/upload", "blank.pdf", testutil.BuildPDF("   "), nil, token))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, false, body["text_extracted"])
		assert.Equal(t, float64(0), body["text_length"])
	})

	t.Run("rejects non-pdf", func(t *testing.T) {
		w := s.do(uploadRequestTo(t, "/api/upload", "notes.txt", []byte("hello"), nil, token))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Only PDF files are allowed", decode(t, w)["error"])
	})

	t.Run("rejects missing file", func(t *testing.T) {
		w := s.do(uploadRequestTo(t, "/api/upload", "", nil, nil, token))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "No file provided", decode(t, w)["error"])
	})
}

func TestSummarizePDF_StoredFile(t *testing.T) {
	s := setupTestServer(t)
	owner := register(t, s, "ivan")
	other := register(t, s, "jade")
	id := uploadStored(t, s, owner, "Plate tectonics moves continents.")
	s.ai.reply = "OVERVIEW...KEY IDEAS..."

	w := s.do(jsonRequest(t, http.MethodPost, "/api/summarize_pdf", map[string]string{"file_id": id}, owner))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "OVERVIEW...KEY IDEAS...", body["summary"])
	assert.Equal(t, false, body["truncated"])
	assert.Contains(t, s.ai.lastCall(t).User(), "Plate tectonics moves continents.")

	w = s.do(jsonRequest(t, http.MethodPost, "/api/summarize_pdf", map[string]string{"file_id": id}, other))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(jsonRequest(t, http.MethodPost, "/api/summarize_pdf", map[string]string{}, owner))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file_id required", decode(t, w)["error"])
}

func TestAsk_SubjectAndStoredFile(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "kira")
	id := uploadStored(t, s, token, "The French Revolution began in 1789.")
	s.ai.reply = "It began in 1789."

	payload := map[string]string{"question": "When did it begin?", "subject": "History", "file_id": id}
	w := s.do(jsonRequest(t, http.MethodPost, "/api/ask", payload, token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"reply":"It began in 1789."}`, w.Body.String())

	env := s.ai.lastCall(t)
	assert.Equal(t, "When did it begin?", env.User())
	assert.Contains(t, env.System(), services.PersonaNormal.SystemPrompt())
	assert.Contains(t, env.System(), "document excerpt")
	assert.Contains(t, env.System(), "The French Revolution began in 1789.")

	w = s.do(jsonRequest(t, http.MethodGet, "/api/chat_history", nil, token))
	history := decode(t, w)["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "history", history[0].(map[string]any)["subject"])

	t.Run("file requires login", func(t *testing.T) {
		w := s.do(jsonRequest(t, http.MethodPost, "/api/ask", payload, ""))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown file", func(t *testing.T) {
		body := map[string]string{"message": "hi", "file_id": "missing"}
		w := s.do(jsonRequest(t, http.MethodPost, "/api/chat", body, token))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGenerateFlashcards_Topic(t *testing.T) {
	s := setupTestServer(t)
	s.ai.reply = `[{"question":"What is chlorophyll?","answer":"A green pigment.","difficulty":"medium"}]`

	w := s.do(jsonRequest(t, http.MethodPost, "/api/generate_flashcards",
		map[string]any{"topic": "photosynthesis", "subject": "science"}, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	assert.NotContains(t, body, "saved")

	user := s.ai.lastCall(t).User()
	assert.Contains(t, user, "Create exactly 5 flashcards about photosynthesis.")
	assert.Contains(t, user, "Subject area: science.")

	w = s.do(jsonRequest(t, http.MethodPost, "/api/generate_flashcards",
		map[string]any{"source_type": "topic", "topic": "cells", "count": 100}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, s.ai.lastCall(t).User(), "Create exactly 20 flashcards about cells.")
}

func TestGenerateFlashcards_RawFallback(t *testing.T) {
	s := setupTestServer(t)
	s.ai.reply = "null"

	w := s.do(jsonRequest(t, http.MethodPost, "/api/generate_flashcards", map[string]any{"topic": "cells"}, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"raw":"null"}`, w.Body.String())
}

func TestGenerateFlashcards_FileAndSave(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "liam")
	id := uploadStored(t, s, token, "Cells are the basic unit of life.")
	s.ai.reply = `[` +
		`{"question":"What is a cell?","answer":"The basic unit of life.","difficulty":"easy"},` +
		`{"question":"What holds DNA?","answer":"The nucleus.","difficulty":"easy"}]`

	payload := map[string]any{
		"source_type":     "file",
		"file_id":         id,
		"count":           2,
		"difficulty":      "easy",
		"subject":         "science",
		"save_flashcards": true,
	}
	w := s.do(jsonRequest(t, http.MethodPost, "/api/generate_flashcards", payload, token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, float64(2), body["saved"])

	user := s.ai.lastCall(t).User()
	assert.Contains(t, user, "Create exactly 2 flashcards")
	assert.Contains(t, user, "Cells are the basic unit of life.")

	w = s.do(jsonRequest(t, http.MethodGet, "/api/flashcards", nil, token))
	require.Equal(t, http.StatusOK, w.Code)
	cards := decode(t, w)["flashcards"].([]any)
	require.Len(t, cards, 2)
	card := cards[0].(map[string]any)
	assert.Equal(t, "Flashcards - "+time.Now().UTC().Format("2006-01-02"), card["title"])
	assert.Equal(t, "science", card["subject"])
}

func TestGenerateFlashcards_BadInput(t *testing.T) {
	s := setupTestServer(t)
	token := register(t, s, "mona")

	tests := []struct {
		name    string
		payload map[string]any
		token   string
		status  int
	}{
		{"blank topic", map[string]any{"topic": "  "}, "", http.StatusBadRequest},
		{"negative count", map[string]any{"topic": "cells", "count": -1}, "", http.StatusBadRequest},
		{"unknown difficulty", map[string]any{"topic": "cells", "difficulty": "brutal"}, "", http.StatusBadRequest},
		{"unknown source", map[string]any{"source_type": "video", "topic": "cells"}, "", http.StatusBadRequest},
		{"file source without login", map[string]any{"source_type": "file", "file_id": "abc"}, "", http.StatusUnauthorized},
		{"file source without file_id", map[string]any{"source_type": "file"}, token, http.StatusBadRequest},
		{"unknown file", map[string]any{"source_type": "file", "file_id": "missing"}, token, http.StatusNotFound},
		{"save without login", map[string]any{"topic": "cells", "save_flashcards": true}, "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(jsonRequest(t, http.MethodPost, "/api/generate_flashcards", tt.payload, tt.token))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, s.ai.calls)
}

func TestNewRouter_MultipartMemoryIndependentOfUploadLimit(t *testing.T) {
	cfg := &config.Config{MaxUploadSize: 64 << 20}
	router := NewRouter(&Handler{cfg: cfg}, cfg)

	assert.Equal(t, int64(multipartMemory), router.MaxMultipartMemory)
	assert.Less(t, router.MaxMultipartMemory, cfg.MaxUploadSize)
}

func TestProcessPDF_ExceedsUploadLimit(t *testing.T) {
	s := setupTestServer(t, func(cfg *config.Config) { cfg.MaxUploadSize = 1 << 10 })

	w := s.do(uploadRequest(t, "big.pdf", bytes.Repeat([]byte("x"), 4<<10), nil, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "File exceeds upload size limit", decode(t, w)["error"])
	assert.Empty(t, s.ai.calls)
}
