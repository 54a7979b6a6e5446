package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	qualdomain "github.com/smallbiznis/leadcore/internal/qualification/domain"
)

type qualificationResponseRequest struct {
	Response string `json:"response"`
}

func (s *Server) StartQualification(c *gin.Context) {
	resp, err := s.qualSvc.Start(c.Request.Context(), qualdomain.StartRequest{
		TenantID: c.Param("tenant_id"),
		LeadID:   c.Param("lead_id"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ProcessQualificationResponse(c *gin.Context) {
	var req qualificationResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.qualSvc.ProcessResponse(c.Request.Context(), qualdomain.ProcessRequest{
		TenantID: c.Param("tenant_id"),
		LeadID:   c.Param("lead_id"),
		Response: req.Response,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetQualification(c *gin.Context) {
	state, err := s.qualSvc.GetState(c.Request.Context(), c.Param("tenant_id"), c.Param("lead_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": state})
}
