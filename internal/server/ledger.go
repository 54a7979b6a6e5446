package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/leadcore/internal/ledger/domain"
	"github.com/smallbiznis/leadcore/pkg/db/pagination"
)

type deductTokensRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Operation   string          `json:"operation"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
}

type topUpTokensRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
	Description string          `json:"description"`
}

type setCapRequest struct {
	DailyCapUSD decimal.Decimal `json:"daily_cap_usd"`
}

func (s *Server) GetBalance(c *gin.Context) {
	resp, err := s.ledgerSvc.GetBalance(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListEntries(c.Request.Context(), ledgerdomain.ListEntriesRequest{
		TenantID:  c.Param("tenant_id"),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) DeductTokens(c *gin.Context) {
	var req deductTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	balance, err := s.ledgerSvc.DeductTokens(c.Request.Context(), ledgerdomain.DeductRequest{
		TenantID:    c.Param("tenant_id"),
		Amount:      req.Amount,
		Operation:   ledgerdomain.Operation(strings.TrimSpace(req.Operation)),
		Description: strings.TrimSpace(req.Description),
		ReferenceID: strings.TrimSpace(req.ReferenceID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"balance": balance}})
}

func (s *Server) TopUpTokens(c *gin.Context) {
	var req topUpTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.TopUpTokens(c.Request.Context(), ledgerdomain.TopUpRequest{
		TenantID:    c.Param("tenant_id"),
		Amount:      req.Amount,
		ReferenceID: strings.TrimSpace(req.ReferenceID),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetCap(c *gin.Context) {
	var req setCapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.SetCap(c.Request.Context(), c.Param("tenant_id"), req.DailyCapUSD)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
