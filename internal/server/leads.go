package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	scoringdomain "github.com/smallbiznis/leadcore/internal/scoring/domain"
)

type upsertLeadRequest struct {
	BudgetEstimate    *decimal.Decimal `json:"budget_estimate"`
	IntentLevel       *string          `json:"intent_level"`
	InteractionCount  *int             `json:"interaction_count"`
	LastInteractionAt *time.Time       `json:"last_interaction_at"`
}

func (s *Server) UpsertLead(c *gin.Context) {
	var req upsertLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lead, err := s.leadSvc.UpsertLead(c.Request.Context(), scoringdomain.UpsertLeadRequest{
		TenantID:          c.Param("tenant_id"),
		LeadID:            c.Param("lead_id"),
		BudgetEstimate:    req.BudgetEstimate,
		IntentLevel:       req.IntentLevel,
		InteractionCount:  req.InteractionCount,
		LastInteractionAt: req.LastInteractionAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": lead})
}

func (s *Server) GetLead(c *gin.Context) {
	lead, err := s.leadSvc.GetLead(c.Request.Context(), c.Param("tenant_id"), c.Param("lead_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": lead})
}

func (s *Server) RecordInteraction(c *gin.Context) {
	lead, err := s.leadSvc.RecordInteraction(c.Request.Context(), c.Param("tenant_id"), c.Param("lead_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": lead})
}

func (s *Server) RefreshScore(c *gin.Context) {
	lead, err := s.leadSvc.Refresh(c.Request.Context(), c.Param("tenant_id"), c.Param("lead_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": lead})
}
