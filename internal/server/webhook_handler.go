package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 4 << 20

// webhook answers the subscription validation handshake, and otherwise
// acknowledges the batch before any processing happens.
func (s *Server) webhook(c *gin.Context) {
	if token := c.Query("validationToken"); token != "" {
		s.log.Info().Msg("subscription validation handshake")
		c.Data(http.StatusOK, "text/plain", []byte(token))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	c.Status(http.StatusAccepted)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read webhook body")
		return
	}
	s.ingestor.Accept(body)
}
