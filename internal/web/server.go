// Package web exposes the flashcard and session services as a JSON API.
package web

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conorfennell/knolroom/internal/domain"
	"github.com/conorfennell/knolroom/internal/errs"
	"github.com/conorfennell/knolroom/internal/service"
	"github.com/conorfennell/knolroom/internal/srs"
	"github.com/conorfennell/knolroom/internal/sync"
)

// statusClientClosedRequest is reported when the caller went away first.
const statusClientClosedRequest = 499

// DeckImporter loads a markdown deck into a room.
type DeckImporter interface {
	ImportDeck(ctx context.Context, roomID, source string) (sync.Report, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	cards    service.FlashcardService
	sessions service.SessionService
	importer DeckImporter
	router   *gin.Engine
	log      *zap.Logger
	now      func() time.Time
}

// NewServer creates and configures a new server.
func NewServer(cards service.FlashcardService, sessions service.SessionService, importer DeckImporter, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cards:    cards,
		sessions: sessions,
		importer: importer,
		router:   gin.New(),
		log:      log,
		now:      time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.Use(s.recoverPanics(), s.logRequests())
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rooms := s.router.Group("/api/rooms/:roomId")
	rooms.GET("/flashcards", s.handleListCards())
	rooms.POST("/flashcards/add", s.handleAddCard())
	rooms.GET("/flashcards/due", s.handleDueCards())
	rooms.POST("/flashcards/review/:cardId", s.handleReviewCard())
	rooms.POST("/import", s.handleImport())

	sessions := s.router.Group("/api/sessions")
	sessions.GET("", s.handleListSessions())
	sessions.POST("", s.handleCreateSession())
	sessions.GET("/:id", s.handleGetSession())
	sessions.POST("/:id/join", s.handleJoinSession())
	sessions.POST("/:id/leave", s.handleLeaveSession())
}

func (s *Server) handleListCards() gin.HandlerFunc {
	return func(c *gin.Context) {
		cards, err := s.cards.ListCards(c.Request.Context(), c.Param("roomId"))
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cards": cards})
	}
}

func (s *Server) handleAddCard() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.NewCard
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errs.Validation("invalid json: %v", err))
			return
		}
		card, err := s.cards.AddCard(c.Request.Context(), c.Param("roomId"), req)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "card": card})
	}
}

// handleDueCards accepts an optional RFC 3339 "at" query parameter.
func (s *Server) handleDueCards() gin.HandlerFunc {
	return func(c *gin.Context) {
		at := s.now()
		if raw := c.Query("at"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				s.fail(c, errs.Validation("at must be an RFC 3339 time"))
				return
			}
			at = t
		}
		due, err := s.cards.DueCards(c.Request.Context(), c.Param("roomId"), at)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cards": due})
	}
}

type reviewRequest struct {
	Outcome string `json:"outcome"`
}

func (s *Server) handleReviewCard() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errs.Validation("invalid json: %v", err))
			return
		}
		rating, err := srs.ParseRating(req.Outcome)
		if err != nil {
			s.fail(c, err)
			return
		}
		card, err := s.cards.ReviewCard(c.Request.Context(), c.Param("roomId"), c.Param("cardId"), rating)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "card": card})
	}
}

type importRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleImport() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errs.Validation("invalid json: %v", err))
			return
		}
		rep, err := s.importer.ImportDeck(c.Request.Context(), c.Param("roomId"), req.Source)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}

func (s *Server) handleListSessions() gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := s.sessions.ListSessions(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": all})
	}
}

func (s *Server) handleCreateSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.NewSession
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errs.Validation("invalid json: %v", err))
			return
		}
		sess, err := s.sessions.CreateSession(c.Request.Context(), req)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	}
}

func (s *Server) handleGetSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.sessions.GetSession(c.Request.Context(), c.Param("id"))
		s.reply(c, sess, err)
	}
}

type membershipRequest struct {
	Identity string `json:"identity"`
}

func (s *Server) handleJoinSession() gin.HandlerFunc {
	return s.membership(s.sessions.JoinSession)
}

func (s *Server) handleLeaveSession() gin.HandlerFunc {
	return s.membership(s.sessions.LeaveSession)
}

func (s *Server) membership(op func(ctx context.Context, sessionID, identity string) (domain.Session, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req membershipRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, errs.Validation("invalid json: %v", err))
			return
		}
		sess, err := op(c.Request.Context(), c.Param("id"), req.Identity)
		s.reply(c, sess, err)
	}
}

func (s *Server) reply(c *gin.Context, sess domain.Session, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// fail writes err as {"error": ...}. Server-side failures are logged and
// their details are not sent to the client.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// statusFor maps error kinds to HTTP status codes. A storage timeout is a
// storage failure, not a gateway timeout.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrCapacity), errors.Is(err, errs.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errs.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrStorage):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", c.ClientIP()),
		)
	}
}

func (s *Server) recoverPanics() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
			}
		}()
		c.Next()
	}
}
