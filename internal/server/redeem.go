package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	redeemdomain "github.com/bulc-app/license-server/internal/redeem/domain"
)

func (s *Server) claimRedeemCode(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req redeemdomain.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, redeemdomain.ErrCodeInvalid)
		return
	}
	req.ClientIP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	resp, err := s.redeemSvc.Claim(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createCampaign(c *gin.Context) {
	var req redeemdomain.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	campaign, err := s.redeemAdmin.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (s *Server) updateCampaign(c *gin.Context) {
	campaignID, ok := s.campaignID(c)
	if !ok {
		return
	}
	var req redeemdomain.UpdateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	campaign, err := s.redeemAdmin.UpdateCampaign(c.Request.Context(), campaignID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (s *Server) listCampaigns(c *gin.Context) {
	campaigns, err := s.redeemAdmin.ListCampaigns(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

func (s *Server) getCampaign(c *gin.Context) {
	campaignID, ok := s.campaignID(c)
	if !ok {
		return
	}
	view, err := s.redeemAdmin.GetCampaign(c.Request.Context(), campaignID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) pauseCampaign(c *gin.Context) {
	s.transitionCampaign(c, s.redeemAdmin.PauseCampaign)
}

func (s *Server) resumeCampaign(c *gin.Context) {
	s.transitionCampaign(c, s.redeemAdmin.ResumeCampaign)
}

func (s *Server) endCampaign(c *gin.Context) {
	s.transitionCampaign(c, s.redeemAdmin.EndCampaign)
}

func (s *Server) generateCodes(c *gin.Context) {
	campaignID, ok := s.campaignID(c)
	if !ok {
		return
	}
	var req redeemdomain.GenerateCodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	codes, err := s.redeemAdmin.GenerateCodes(c.Request.Context(), campaignID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"codes": codes})
}

func (s *Server) addCode(c *gin.Context) {
	campaignID, ok := s.campaignID(c)
	if !ok {
		return
	}
	var req redeemdomain.AddCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	code, err := s.redeemAdmin.AddCode(c.Request.Context(), campaignID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, code)
}

func (s *Server) listCodes(c *gin.Context) {
	campaignID, ok := s.campaignID(c)
	if !ok {
		return
	}
	codes, err := s.redeemAdmin.ListCodes(c.Request.Context(), campaignID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"codes": codes})
}

func (s *Server) listRedemptions(c *gin.Context) {
	campaignID, ok := s.campaignID(c)
	if !ok {
		return
	}
	redemptions, err := s.redeemAdmin.ListRedemptions(c.Request.Context(), campaignID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redemptions": redemptions})
}

func (s *Server) disableCode(c *gin.Context) {
	codeID, err := snowflake.ParseString(c.Param("codeId"))
	if err != nil {
		AbortWithError(c, redeemdomain.ErrCodeNotFound)
		return
	}
	code, err := s.redeemAdmin.DisableCode(c.Request.Context(), codeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, code)
}

func (s *Server) deleteCode(c *gin.Context) {
	codeID, err := snowflake.ParseString(c.Param("codeId"))
	if err != nil {
		AbortWithError(c, redeemdomain.ErrCodeNotFound)
		return
	}
	if err := s.redeemAdmin.DeleteCode(c.Request.Context(), codeID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) campaignID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("campaignId"))
	if err != nil {
		AbortWithError(c, redeemdomain.ErrCampaignNotFound)
		return 0, false
	}
	return id, true
}

func (s *Server) transitionCampaign(c *gin.Context, fn func(ctx context.Context, id snowflake.ID) (*redeemdomain.Campaign, error)) {
	campaignID, ok := s.campaignID(c)
	if !ok {
		return
	}
	campaign, err := fn(c.Request.Context(), campaignID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}
