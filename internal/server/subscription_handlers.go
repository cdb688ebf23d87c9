package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/resource"
)

func (s *Server) listSubscriptions(c *gin.Context) {
	subs, err := s.subscriptions.List(c.Request.Context(), sessionFrom(c).AccessToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": subs})
}

func (s *Server) createSubscription(kind resource.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.subscriptions.CreateOrReplace(c.Request.Context(), sessionFrom(c).AccessToken, kind)
		if err != nil {
			s.log.Error().Err(err).Str("kind", string(kind)).Msg("subscription create failed")
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"subscription": res.Subscription,
			"status":       res.Status,
			"details":      res.Details,
		})
	}
}

func (s *Server) deleteSubscription(c *gin.Context) {
	if err := s.subscriptions.Delete(c.Request.Context(), sessionFrom(c).AccessToken, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) renewSubscription(c *gin.Context) {
	sub, err := s.subscriptions.Renew(c.Request.Context(), sessionFrom(c).AccessToken, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "subscription": sub})
}
