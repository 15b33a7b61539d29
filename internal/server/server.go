// Package server exposes the licensing API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/bulc-app/license-server/internal/config"
	"github.com/bulc-app/license-server/internal/license"
	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	"github.com/bulc-app/license-server/internal/plan"
	plandomain "github.com/bulc-app/license-server/internal/plan/domain"
	"github.com/bulc-app/license-server/internal/product"
	productdomain "github.com/bulc-app/license-server/internal/product/domain"
	"github.com/bulc-app/license-server/internal/ratelimit"
	"github.com/bulc-app/license-server/internal/redeem"
	redeemdomain "github.com/bulc-app/license-server/internal/redeem/domain"
	"github.com/bulc-app/license-server/internal/token"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	product.Module,
	plan.Module,
	license.Module,
	token.Module,
	ratelimit.Module,
	redeem.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	genID       *snowflake.Node
	licenseSvc  licensedomain.Service
	planSvc     plandomain.Service
	productSvc  productdomain.Service
	redeemSvc   redeemdomain.Service
	redeemAdmin redeemdomain.AdminService
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	GenID       *snowflake.Node
	LicenseSvc  licensedomain.Service
	PlanSvc     plandomain.Service
	ProductSvc  productdomain.Service
	RedeemSvc   redeemdomain.Service
	RedeemAdmin redeemdomain.AdminService
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		genID:       p.GenID,
		licenseSvc:  p.LicenseSvc,
		planSvc:     p.PlanSvc,
		productSvc:  p.ProductSvc,
		redeemSvc:   p.RedeemSvc,
		redeemAdmin: p.RedeemAdmin,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(AuthMiddleware(s.cfg))

	licenses := v1.Group("/licenses")
	{
		licenses.POST("/validate", s.validateLicense)
		licenses.POST("/heartbeat", s.heartbeat)
		licenses.POST("/validate/force", s.forceValidate)
		licenses.GET("/:licenseId", s.getLicense)
		licenses.DELETE("/:licenseId/activations/:deviceFingerprint", s.deactivateDevice)
	}

	v1.GET("/me/licenses", s.listMyLicenses)
	v1.POST("/redeem", s.claimRedeemCode)

	admin := v1.Group("/admin")
	admin.Use(RequireAdmin())
	{
		admin.POST("/products", s.createProduct)
		admin.GET("/products", s.listProducts)
		admin.POST("/plans", s.createPlan)
		admin.GET("/products/:productId/plans", s.listPlans)

		admin.POST("/licenses", s.issueLicense)
		admin.GET("/licenses/by-key/:licenseKey", s.getLicenseByKey)
		admin.POST("/licenses/:licenseId/suspend", s.suspendLicense)
		admin.POST("/licenses/:licenseId/unsuspend", s.unsuspendLicense)
		admin.POST("/licenses/:licenseId/revoke", s.revokeLicense)
		admin.POST("/licenses/:licenseId/renew", s.renewLicense)

		admin.POST("/redeem-campaigns", s.createCampaign)
		admin.GET("/redeem-campaigns", s.listCampaigns)
		admin.GET("/redeem-campaigns/:campaignId", s.getCampaign)
		admin.PATCH("/redeem-campaigns/:campaignId", s.updateCampaign)
		admin.POST("/redeem-campaigns/:campaignId/pause", s.pauseCampaign)
		admin.POST("/redeem-campaigns/:campaignId/resume", s.resumeCampaign)
		admin.POST("/redeem-campaigns/:campaignId/end", s.endCampaign)
		admin.POST("/redeem-campaigns/:campaignId/codes", s.generateCodes)
		admin.POST("/redeem-campaigns/:campaignId/codes/add", s.addCode)
		admin.GET("/redeem-campaigns/:campaignId/codes", s.listCodes)
		admin.GET("/redeem-campaigns/:campaignId/redemptions", s.listRedemptions)
		admin.POST("/redeem-codes/:codeId/disable", s.disableCode)
		admin.DELETE("/redeem-codes/:codeId", s.deleteCode)
	}
}
