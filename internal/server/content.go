package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/leadcore/internal/contentgen"
	"github.com/smallbiznis/leadcore/internal/fallback"
)

type generateContentRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system"`
	Model       string  `json:"model"`
	MaxTokens   int32   `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Category    string  `json:"category"`
}

// GenerateContent always answers 200 with text; blocked or failed calls
// carry fallback=true and the reason.
func (s *Server) GenerateContent(c *gin.Context) {
	var req generateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		AbortWithError(c, contentgen.ErrEmptyPrompt)
		return
	}

	result := s.content.Generate(c.Request.Context(), contentgen.Request{
		TenantID:    c.Param("tenant_id"),
		Model:       strings.TrimSpace(req.Model),
		System:      req.System,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Category:    fallback.Category(strings.ToLower(strings.TrimSpace(req.Category))),
	})

	data := gin.H{
		"text":     result.Text,
		"fallback": result.Fallback,
		"category": result.Category,
	}
	if result.Reason != "" {
		data["reason"] = result.Reason
	}
	if result.Usage != nil {
		data["usage"] = result.Usage
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}
