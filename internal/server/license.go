package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
)

func (s *Server) validateLicense(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req licensedomain.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	req.ClientIP = c.ClientIP()

	resp, err := s.licenseSvc.Validate(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) heartbeat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req licensedomain.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	req.ClientIP = c.ClientIP()

	resp, err := s.licenseSvc.Heartbeat(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) forceValidate(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req licensedomain.ForceValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	req.ClientIP = c.ClientIP()

	resp, err := s.licenseSvc.ForceValidate(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getLicense(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}
	licenseID, err := snowflake.ParseString(c.Param("licenseId"))
	if err != nil {
		AbortWithError(c, licensedomain.ErrLicenseNotFound)
		return
	}

	var view *licensedomain.LicenseView
	if c.GetString(ctxRoleKey) == roleAdmin {
		view, err = s.licenseSvc.Get(c.Request.Context(), licenseID)
	} else {
		view, err = s.licenseSvc.GetOwned(c.Request.Context(), userID, licenseID)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) deactivateDevice(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}
	licenseID, err := snowflake.ParseString(c.Param("licenseId"))
	if err != nil {
		AbortWithError(c, licensedomain.ErrLicenseNotFound)
		return
	}
	fingerprint := strings.TrimSpace(c.Param("deviceFingerprint"))
	if fingerprint == "" {
		AbortWithError(c, licensedomain.ErrActivationNotFound)
		return
	}

	if err := s.licenseSvc.Deactivate(c.Request.Context(), userID, licenseID, fingerprint); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMyLicenses(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var productID *snowflake.ID
	if raw := c.Query("productId"); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, licensedomain.NewError("INVALID_REQUEST", "invalid product id"))
			return
		}
		productID = &id
	}

	views, err := s.licenseSvc.ListOwned(c.Request.Context(), userID, productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"licenses": views})
}
