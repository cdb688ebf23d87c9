package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/session"
)

const (
	sessionCookie = "sessionId"
	stateCookie   = "authState"
	sessionKey    = "session"
)

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		e := s.log.Info()
		switch {
		case status >= http.StatusInternalServerError:
			e = s.log.Error()
		case status >= http.StatusBadRequest:
			e = s.log.Warn()
		}
		e.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.log.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// requireSession resolves the session cookie, refreshing it when near expiry.
// Requests without a usable session get 401.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := s.currentSession(c)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(sessionKey, sess)
		c.Next()
	}
}

// currentSession returns the caller's session. A refresh failure deletes the
// session and is reported as an AuthError.
func (s *Server) currentSession(c *gin.Context) (session.Session, error) {
	id, err := c.Cookie(sessionCookie)
	if err != nil || id == "" {
		return session.Session{}, apperrors.Auth("session", apperrors.ErrNoSession)
	}
	if _, ok := s.sessions.Get(id); !ok {
		s.sessions.Delete(id)
		return session.Session{}, apperrors.Auth("session", apperrors.ErrSessionExpired)
	}

	sess, err := s.sessions.RefreshIfNearExpiry(c.Request.Context(), id, s.profiles)
	if err != nil {
		s.sessions.Delete(id)
		s.log.Warn().Err(err).Str("session", id).Msg("session dropped after failed refresh")
		return session.Session{}, err
	}
	return sess, nil
}

func sessionFrom(c *gin.Context) session.Session {
	v, _ := c.Get(sessionKey)
	sess, _ := v.(session.Session)
	return sess
}

// writeError maps err onto a status and a JSON body.
func writeError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	body := gin.H{"error": err.Error()}

	var pe *apperrors.ProviderError
	var ce *apperrors.ConfigError
	var ae *apperrors.AuthError
	switch {
	case errors.As(err, &ae):
		body["error"] = "Not authenticated"
		body["details"] = ae.Error()
	case errors.As(err, &pe):
		body["error"] = pe.Op + " failed"
		body["details"] = gin.H{"code": pe.Code, "message": pe.Message, "status": pe.Status}
	case errors.As(err, &ce):
		body["error"] = "server is missing configuration"
		body["setting"] = ce.Setting
	}
	c.JSON(status, body)
}
