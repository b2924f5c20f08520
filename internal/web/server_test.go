package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conorfennell/knolroom/internal/domain"
	"github.com/conorfennell/knolroom/internal/errs"
	"github.com/conorfennell/knolroom/internal/room"
	"github.com/conorfennell/knolroom/internal/service"
	"github.com/conorfennell/knolroom/internal/storage"
	"github.com/conorfennell/knolroom/internal/sync"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	srv       *Server
	localRoot string
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	log := zaptest.NewLogger(t)

	cardBackend, err := storage.NewFileBackend[domain.Flashcard](dir, "flashcards", "cards")
	require.NoError(t, err)
	sessionBackend, err := storage.NewFileBackend[domain.Session](dir, "session", "sessions")
	require.NoError(t, err)

	cardRooms := room.New[domain.Flashcard](cardBackend, room.WithLogger(log))
	sessionRooms := room.New[domain.Session](sessionBackend, room.WithLogger(log))
	t.Cleanup(func() {
		_ = cardRooms.Close(context.Background())
		_ = sessionRooms.Close(context.Background())
	})

	cards := service.NewFlashcardService(cardRooms, nil, log)
	sessions := service.NewSessionService(sessionRooms, log)
	localRoot := t.TempDir()
	importer := sync.NewImporter(cards, t.TempDir(), localRoot, log)

	return &testEnv{srv: NewServer(cards, sessions, importer, log), localRoot: localRoot}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestFlashcardRoutes(t *testing.T) {
	e := newTestServer(t)

	code, out := e.do(t, http.MethodGet, "/api/rooms/r1/flashcards", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{}, out["cards"])

	code, out = e.do(t, http.MethodPost, "/api/rooms/r1/flashcards/add", gin.H{
		"question": "What is HTMX?", "answer": "A library", "tags": []string{"web"},
	})
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, true, out["success"])
	card := out["card"].(map[string]any)
	require.Equal(t, "room_r1_1", card["id"])
	require.Equal(t, "easy", card["difficulty"])
	require.Nil(t, card["lastReviewed"])

	code, out = e.do(t, http.MethodGet, "/api/rooms/r1/flashcards/due", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["cards"], 1)

	code, out = e.do(t, http.MethodPost, "/api/rooms/r1/flashcards/review/room_r1_1", gin.H{"outcome": "good"})
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, out["card"].(map[string]any)["nextReviewDate"])

	code, out = e.do(t, http.MethodGet, "/api/rooms/r1/flashcards/due", nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, out["cards"])
}

func TestFlashcardRoutes_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"blank question", http.MethodPost, "/api/rooms/r1/flashcards/add", gin.H{"question": " ", "answer": "a"}, http.StatusBadRequest},
		{"bad difficulty", http.MethodPost, "/api/rooms/r1/flashcards/add", gin.H{"question": "q", "answer": "a", "difficulty": "brutal"}, http.StatusBadRequest},
		{"no body", http.MethodPost, "/api/rooms/r1/flashcards/add", nil, http.StatusBadRequest},
		{"unknown outcome", http.MethodPost, "/api/rooms/r1/flashcards/review/room_r1_1", gin.H{"outcome": "meh"}, http.StatusBadRequest},
		{"unknown card", http.MethodPost, "/api/rooms/r1/flashcards/review/room_r1_9", gin.H{"outcome": "good"}, http.StatusNotFound},
		{"bad due time", http.MethodGet, "/api/rooms/r1/flashcards/due?at=tomorrow", nil, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestServer(t)
			code, out := e.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, code)
			require.NotEmpty(t, out["error"])
		})
	}
}

func TestSessionRoutes(t *testing.T) {
	e := newTestServer(t)

	code, out := e.do(t, http.MethodPost, "/api/sessions", gin.H{
		"title": "Go study", "topic": "channels", "host": "alice", "capacity": 2,
		"scheduledAt": "2025-06-01T18:00:00Z", "durationMinutes": 60,
	})
	require.Equal(t, http.StatusCreated, code)
	id := out["id"].(string)
	require.Equal(t, []any{"alice"}, out["participants"])

	code, out = e.do(t, http.MethodPost, "/api/sessions/"+id+"/join", gin.H{"identity": "bob"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{"alice", "bob"}, out["participants"])

	code, _ = e.do(t, http.MethodPost, "/api/sessions/"+id+"/join", gin.H{"identity": "bob"})
	require.Equal(t, http.StatusOK, code)

	code, out = e.do(t, http.MethodPost, "/api/sessions/"+id+"/join", gin.H{"identity": "carol"})
	require.Equal(t, http.StatusConflict, code)
	require.NotEmpty(t, out["error"])

	code, out = e.do(t, http.MethodPost, "/api/sessions/"+id+"/leave", gin.H{"identity": "bob"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{"alice"}, out["participants"])

	code, out = e.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Go study", out["title"])

	code, out = e.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["sessions"], 1)

	code, _ = e.do(t, http.MethodGet, "/api/sessions/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodPost, "/api/sessions", gin.H{"title": "x", "topic": "y", "host": "z", "capacity": 0})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestImportRoute(t *testing.T) {
	e := newTestServer(t)
	deck := filepath.Join(e.localRoot, "deck")
	require.NoError(t, os.MkdirAll(deck, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deck, "cards.md"), []byte("Q: one\nA: 1\n\nQ: two\nA: 2\n"), 0o644))

	code, out := e.do(t, http.MethodPost, "/api/rooms/r1/import", gin.H{"source": "deck"})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, out["added"])

	code, out = e.do(t, http.MethodGet, "/api/rooms/r1/flashcards", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["cards"], 2)

	code, _ = e.do(t, http.MethodPost, "/api/rooms/r1/import", gin.H{"source": "../elsewhere"})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		err    error
		status int
	}{
		{errs.Validation("x"), http.StatusBadRequest},
		{fmt.Errorf("card: %w", errs.ErrNotFound), http.StatusNotFound},
		{errs.ErrCapacity, http.StatusConflict},
		{errs.ErrConflict, http.StatusConflict},
		{errs.ErrClosed, http.StatusServiceUnavailable},
		{errs.Storage("commit", "r1", context.DeadlineExceeded), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{context.Canceled, statusClientClosedRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			require.Equal(t, tc.status, statusFor(tc.err))
		})
	}
}

func TestRecoverPanics(t *testing.T) {
	e := newTestServer(t)
	e.srv.router.GET("/boom", func(*gin.Context) { panic("boom") })

	code, out := e.do(t, http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "internal", out["error"])
}
