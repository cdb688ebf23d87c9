package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/auth"
	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/session"
)

const stateTTL = 10 * time.Minute

func (s *Server) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", s.cfg.CookieSecure, true)
}

func (s *Server) login(c *gin.Context) {
	if err := s.cfg.RequireIdentity(); err != nil {
		writeError(c, err)
		return
	}

	state := auth.NewState()
	s.setCookie(c, stateCookie, state, int(stateTTL.Seconds()))
	c.JSON(http.StatusOK, gin.H{"authUrl": s.identity.AuthCodeURL(state)})
}

func (s *Server) callback(c *gin.Context) {
	if err := s.cfg.RequireIdentity(); err != nil {
		writeError(c, err)
		return
	}

	if providerErr := c.Query("error"); providerErr != "" {
		writeError(c, apperrors.Auth(providerErr, errors.New(c.Query("error_description"))))
		return
	}

	want, _ := c.Cookie(stateCookie)
	s.setCookie(c, stateCookie, "", -1)
	got := c.Query("state")
	if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		s.log.Warn().Bool("security", true).Msg("authorization callback with mismatched state")
		writeError(c, apperrors.Auth("callback", apperrors.ErrInvalidState))
		return
	}

	ctx := c.Request.Context()
	tok, err := s.identity.Exchange(ctx, c.Query("code"))
	if err != nil {
		s.log.Warn().Err(err).Msg("authorization code exchange failed")
		writeError(c, err)
		return
	}

	profile, err := s.profiles.FetchProfile(ctx, tok.AccessToken)
	if err != nil {
		writeError(c, err)
		return
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(session.RefreshExtension)
	}

	sess := s.sessions.Create(uuid.NewString(), tok.AccessToken, expiresAt, profile)
	// No Max-Age: the session store owns expiry.
	s.setCookie(c, sessionCookie, sess.ID, 0)

	ev := s.log.Info().Str("session", sess.ID).Str("user", profile.PrincipalName)
	if tok.Claims != nil {
		ev = ev.Str("tenant", tok.Claims.TenantID)
	}
	ev.Msg("user signed in")

	c.Redirect(http.StatusFound, "/")
}

func (s *Server) status(c *gin.Context) {
	sess, err := s.currentSession(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"isLoggedIn": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"isLoggedIn": true, "userInfo": sess.Profile})
}

func (s *Server) logout(c *gin.Context) {
	if id, err := c.Cookie(sessionCookie); err == nil && id != "" {
		s.sessions.Delete(id)
		s.log.Info().Str("session", id).Msg("user signed out")
	}
	s.setCookie(c, sessionCookie, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true})
}
