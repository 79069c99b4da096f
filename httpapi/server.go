// Package httpapi exposes the reflector's operational HTTP surface: a health
// check, and lookup of the feedback observed by a reflector.Tracker.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/go-digitaltwin/reflector"
)

// MaxWait bounds the wait parameter of feedback lookups.
const MaxWait = time.Minute

// Server serves the HTTP API. Create it with NewServer.
type Server struct {
	tracker *reflector.Tracker
	r       *gin.Engine
}

// NewServer returns a Server that answers feedback lookups from t.
func NewServer(t *reflector.Tracker) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	s := &Server{tracker: t, r: r}
	s.routes()
	return s
}

// Handler returns the http.Handler of s, suitable for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.r.Group("/v1")
	{
		v1.GET("/feedback", s.handleListFeedback)
		v1.GET("/feedback/:correlation_id", s.handleGetFeedback)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) handleListFeedback(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"feedback": s.tracker.All()})
}

// handleGetFeedback returns the feedback of a correlation id. With a wait
// parameter (a Go duration), it waits up to that long for the feedback to be
// observed.
func (s *Server) handleGetFeedback(c *gin.Context) {
	id, err := uuid.Parse(c.Param("correlation_id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "BAD_INPUT", "invalid correlation id")
		return
	}
	var wait time.Duration
	if v := c.Query("wait"); v != "" {
		wait, err = time.ParseDuration(v)
		if err != nil || wait < 0 {
			writeError(c, http.StatusBadRequest, "BAD_INPUT", "invalid wait duration")
			return
		}
		wait = min(wait, MaxWait)
	}

	if wait == 0 {
		f, ok := s.tracker.Find(reflector.ByCorrelationID(id))
		if !ok {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "no feedback observed")
			return
		}
		c.JSON(http.StatusOK, f)
		return
	}

	f, err := s.tracker.AwaitMatch(c.Request.Context(), reflector.ByCorrelationID(id), reflector.PollOptions{
		Interval: reflector.DefaultAwaitOptions.Interval,
		Timeout:  wait,
	})
	switch {
	case errors.Is(err, reflector.ErrAwaitTimeout):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "no feedback observed")
	case errors.Is(err, context.Canceled):
		// The client went away.
		c.Status(499)
	case err != nil:
		writeError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	default:
		c.JSON(http.StatusOK, f)
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
