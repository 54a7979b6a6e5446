package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/leadcore/internal/payment/webhook"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentHook.Ingest(c.Request.Context(), provider, payload, c.GetHeader(webhook.SignatureHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Duplicate {
		s.log.Debug("payment webhook redelivered",
			zap.String("provider", provider),
			zap.String("event_id", result.EventID),
		)
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
