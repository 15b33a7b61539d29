package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	plandomain "github.com/bulc-app/license-server/internal/plan/domain"
)

type createProductRequest struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
}

func (s *Server) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	product, err := s.productSvc.Create(c.Request.Context(), req.Code, req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (s *Server) listProducts(c *gin.Context) {
	products, err := s.productSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (s *Server) createPlan(c *gin.Context) {
	var req plandomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	plan, err := s.planSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (s *Server) listPlans(c *gin.Context) {
	productID, err := snowflake.ParseString(c.Param("productId"))
	if err != nil {
		AbortWithError(c, licensedomain.ErrProductNotFound)
		return
	}
	plans, err := s.planSvc.ListByProduct(c.Request.Context(), productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

type issueLicenseRequest struct {
	OwnerType     licensedomain.OwnerType     `json:"ownerType"`
	OwnerID       string                      `json:"ownerId" binding:"required"`
	PlanID        string                      `json:"planId"`
	PlanCode      string                      `json:"planCode"`
	UsageCategory licensedomain.UsageCategory `json:"usageCategory"`
	SourceOrderID string                      `json:"sourceOrderId"`
}

func (s *Server) issueLicense(c *gin.Context) {
	var req issueLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	ownerID, err := snowflake.ParseString(strings.TrimSpace(req.OwnerID))
	if err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", "invalid owner id"))
		return
	}

	var planID snowflake.ID
	switch {
	case req.PlanID != "":
		planID, err = snowflake.ParseString(strings.TrimSpace(req.PlanID))
		if err != nil {
			AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", "invalid plan id"))
			return
		}
	case req.PlanCode != "":
		plan, err := s.planSvc.GetAvailableByCode(c.Request.Context(), req.PlanCode)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		planID = plan.ID
	default:
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", "planId or planCode is required"))
		return
	}

	var sourceOrderID *snowflake.ID
	if req.SourceOrderID != "" {
		id, err := snowflake.ParseString(strings.TrimSpace(req.SourceOrderID))
		if err != nil {
			AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", "invalid source order id"))
			return
		}
		sourceOrderID = &id
	}

	ownerType := req.OwnerType
	if ownerType == "" {
		ownerType = licensedomain.OwnerTypeUser
	}

	license, err := s.licenseSvc.IssueFromPlan(c.Request.Context(), licensedomain.IssueFromPlanRequest{
		OwnerType:     ownerType,
		OwnerID:       ownerID,
		PlanID:        planID,
		UsageCategory: req.UsageCategory,
		SourceOrderID: sourceOrderID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, license)
}

func (s *Server) getLicenseByKey(c *gin.Context) {
	view, err := s.licenseSvc.GetByKey(c.Request.Context(), c.Param("licenseKey"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) suspendLicense(c *gin.Context) {
	licenseID, err := snowflake.ParseString(c.Param("licenseId"))
	if err != nil {
		AbortWithError(c, licensedomain.ErrLicenseNotFound)
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	if err := s.licenseSvc.Suspend(c.Request.Context(), licenseID, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) unsuspendLicense(c *gin.Context) {
	licenseID, err := snowflake.ParseString(c.Param("licenseId"))
	if err != nil {
		AbortWithError(c, licensedomain.ErrLicenseNotFound)
		return
	}
	if err := s.licenseSvc.Unsuspend(c.Request.Context(), licenseID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) revokeLicense(c *gin.Context) {
	licenseID, err := snowflake.ParseString(c.Param("licenseId"))
	if err != nil {
		AbortWithError(c, licensedomain.ErrLicenseNotFound)
		return
	}
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	if err := s.licenseSvc.Revoke(c.Request.Context(), licenseID, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type renewRequest struct {
	AdditionalDays int `json:"additionalDays" binding:"required,min=1"`
}

func (s *Server) renewLicense(c *gin.Context) {
	licenseID, err := snowflake.ParseString(c.Param("licenseId"))
	if err != nil {
		AbortWithError(c, licensedomain.ErrLicenseNotFound)
		return
	}
	var req renewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	license, err := s.licenseSvc.Renew(c.Request.Context(), licenseID, req.AdditionalDays)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, license)
}
