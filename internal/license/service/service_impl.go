// Package service implements license issuance, lifecycle and the
// validation/session-concurrency engine.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/clock"
	"github.com/bulc-app/license-server/internal/config"
	"github.com/bulc-app/license-server/internal/license/domain"
	plandomain "github.com/bulc-app/license-server/internal/plan/domain"
	productdomain "github.com/bulc-app/license-server/internal/product/domain"
	"github.com/bulc-app/license-server/internal/token"
	pkgdb "github.com/bulc-app/license-server/pkg/db"
)

const keyGenAttempts = 5

type Params struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Plans    plandomain.Service
	Products productdomain.Service
	Session  *token.SessionIssuer
	Offline  *token.OfflineIssuer
}

type Service struct {
	cfg      config.LicensingConfig
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	plans    plandomain.Service
	products productdomain.Service
	session  *token.SessionIssuer
	offline  *token.OfflineIssuer
}

func New(p Params) domain.Service {
	return &Service{
		cfg:      p.Config.Licensing,
		db:       p.DB,
		log:      p.Log.Named("license.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		plans:    p.Plans,
		products: p.Products,
		session:  p.Session,
		offline:  p.Offline,
	}
}

// DefaultPolicySnapshot is applied when a license is issued without a plan
// and without an explicit snapshot.
func DefaultPolicySnapshot(cfg config.LicensingConfig) map[string]interface{} {
	ents := make([]interface{}, len(cfg.DefaultEntitlements))
	for i, e := range cfg.DefaultEntitlements {
		ents[i] = e
	}
	return map[string]interface{}{
		domain.PolicyMaxActivations:        cfg.DefaultMaxActivations,
		domain.PolicyMaxConcurrentSessions: cfg.DefaultMaxConcurrentSessions,
		domain.PolicySessionTTLMinutes:     cfg.DefaultSessionTTLMinutes,
		domain.PolicyGracePeriodDays:       cfg.DefaultGracePeriodDays,
		domain.PolicyAllowOfflineDays:      cfg.DefaultAllowOfflineDays,
		domain.PolicyEntitlements:          ents,
	}
}

func (s *Service) Issue(ctx context.Context, req domain.IssueRequest) (*domain.License, error) {
	var issued *domain.License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		issued, err = s.issueTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (s *Service) IssueFromPlan(ctx context.Context, req domain.IssueFromPlanRequest) (*domain.License, error) {
	var issued *domain.License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		issued, err = s.IssueFromPlanTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (s *Service) IssueFromPlanTx(ctx context.Context, tx *gorm.DB, req domain.IssueFromPlanRequest) (*domain.License, error) {
	plan, err := s.plans.GetAvailableByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	usage := req.UsageCategory
	if usage == "" {
		usage = domain.UsageCategoryCommercial
	}

	planID := plan.ID
	return s.issueTx(ctx, tx, domain.IssueRequest{
		OwnerType:      req.OwnerType,
		OwnerID:        req.OwnerID,
		ProductID:      plan.ProductID,
		PlanID:         &planID,
		LicenseType:    plan.LicenseType,
		UsageCategory:  usage,
		DurationDays:   plan.DurationDays,
		PolicySnapshot: plan.PolicySnapshot(),
		SourceOrderID:  req.SourceOrderID,
	})
}

func (s *Service) issueTx(ctx context.Context, tx *gorm.DB, req domain.IssueRequest) (*domain.License, error) {
	if req.OwnerID == 0 || req.ProductID == 0 {
		return nil, domain.NewError("INVALID_REQUEST", "owner and product are required")
	}
	ownerType := req.OwnerType
	if ownerType == "" {
		ownerType = domain.OwnerTypeUser
	}

	existing, err := s.repo.FindUsableByOwnerAndProduct(ctx, tx, ownerType, req.OwnerID, req.ProductID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrLicenseAlreadyExists
	}

	now := s.clock.Now()
	licenseType := req.LicenseType
	if licenseType == "" {
		licenseType = domain.LicenseTypeSubscription
	}
	var validUntil *time.Time
	if licenseType != domain.LicenseTypePerpetual && req.DurationDays != nil {
		until := now.Add(time.Duration(*req.DurationDays) * 24 * time.Hour)
		validUntil = &until
	}
	snapshot := req.PolicySnapshot
	if snapshot == nil {
		snapshot = DefaultPolicySnapshot(s.cfg)
	}
	usage := req.UsageCategory
	if usage == "" {
		usage = domain.UsageCategoryCommercial
	}

	license := &domain.License{
		ID:             s.genID.Generate(),
		OwnerType:      ownerType,
		OwnerID:        req.OwnerID,
		ProductID:      req.ProductID,
		PlanID:         req.PlanID,
		LicenseType:    licenseType,
		UsageCategory:  usage,
		Status:         domain.LicenseStatusActive,
		ValidFrom:      now,
		ValidUntil:     validUntil,
		PolicySnapshot: snapshot,
		SourceOrderID:  req.SourceOrderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Key collisions are vanishingly rare but the unique index makes them
	// harmless: regenerate and retry.
	for attempt := 0; attempt < keyGenAttempts; attempt++ {
		license.LicenseKey = generateLicenseKey()
		err = s.repo.Insert(ctx, tx, license)
		if err == nil {
			break
		}
		if !pkgdb.IsDuplicateKeyErr(err) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("license issued",
		zap.String("license_id", license.ID.String()),
		zap.String("owner_id", license.OwnerID.String()),
		zap.String("product_id", license.ProductID.String()),
	)
	return license, nil
}

// generateLicenseKey produces a XXXX-XXXX-XXXX-XXXX key from random UUID hex.
func generateLicenseKey() string {
	hexStr := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
	return hexStr[0:4] + "-" + hexStr[4:8] + "-" + hexStr[8:12] + "-" + hexStr[12:16]
}

// normalizeLicenseKey re-derives the stored spelling from whatever a support
// agent pasted in.
func normalizeLicenseKey(key string) string {
	raw := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(key), "-", ""))
	if len(raw) != 16 {
		return strings.ToUpper(strings.TrimSpace(key))
	}
	return raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12] + "-" + raw[12:16]
}

func (s *Service) Suspend(ctx context.Context, licenseID snowflake.ID, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := s.repo.FindByIDForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if license.Status == domain.LicenseStatusRevoked || license.Status == domain.LicenseStatusSuspended {
			return domain.ErrInvalidLicenseState
		}
		now := s.clock.Now()
		license.Status = domain.LicenseStatusSuspended
		license.SuspendReason = &reason
		license.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, license); err != nil {
			return err
		}
		s.log.Info("license suspended",
			zap.String("license_id", licenseID.String()),
			zap.String("reason", reason),
		)
		return nil
	})
}

func (s *Service) Unsuspend(ctx context.Context, licenseID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := s.repo.FindByIDForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if license.Status != domain.LicenseStatusSuspended {
			return domain.ErrInvalidLicenseState
		}
		license.Status = domain.LicenseStatusActive
		license.SuspendReason = nil
		license.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, license); err != nil {
			return err
		}
		s.log.Info("license unsuspended", zap.String("license_id", licenseID.String()))
		return nil
	})
}

func (s *Service) Revoke(ctx context.Context, licenseID snowflake.ID, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := s.repo.FindByIDForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		return s.revokeTx(ctx, tx, license, reason)
	})
}

func (s *Service) RevokeBySourceOrderID(ctx context.Context, orderID snowflake.ID, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := s.repo.FindBySourceOrderID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		license, err = s.repo.FindByIDForUpdate(ctx, tx, license.ID)
		if err != nil {
			return err
		}
		return s.revokeTx(ctx, tx, license, reason)
	})
}

// revokeTx is terminal: it also deactivates every live session so revocation
// takes effect on the next heartbeat.
func (s *Service) revokeTx(ctx context.Context, tx *gorm.DB, license *domain.License, reason string) error {
	if license.Status == domain.LicenseStatusRevoked {
		return domain.ErrInvalidLicenseState
	}
	now := s.clock.Now()
	license.Status = domain.LicenseStatusRevoked
	license.RevokeReason = &reason
	license.UpdatedAt = now
	if err := s.repo.Save(ctx, tx, license); err != nil {
		return err
	}

	activations, err := s.repo.ListActivations(ctx, tx, license.ID)
	if err != nil {
		return err
	}
	for i := range activations {
		if activations[i].Status != domain.ActivationStatusActive {
			continue
		}
		activations[i].Deactivate("LICENSE_REVOKED", now)
		if err := s.repo.SaveActivation(ctx, tx, &activations[i]); err != nil {
			return err
		}
	}

	s.log.Info("license revoked",
		zap.String("license_id", license.ID.String()),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) Renew(ctx context.Context, licenseID snowflake.ID, additionalDays int) (*domain.License, error) {
	if additionalDays <= 0 {
		return nil, domain.NewError("INVALID_REQUEST", "additionalDays must be positive")
	}
	var renewed *domain.License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := s.repo.FindByIDForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if license.Status == domain.LicenseStatusRevoked {
			return domain.ErrInvalidLicenseState
		}
		if license.ValidUntil == nil {
			// Perpetual licenses have nothing to extend.
			return domain.ErrInvalidLicenseState
		}

		now := s.clock.Now()
		base := *license.ValidUntil
		if base.Before(now) {
			base = now
		}
		until := base.Add(time.Duration(additionalDays) * 24 * time.Hour)
		license.ValidUntil = &until
		license.UpdatedAt = now
		if err := s.repo.Save(ctx, tx, license); err != nil {
			return err
		}
		renewed = license
		s.log.Info("license renewed",
			zap.String("license_id", licenseID.String()),
			zap.Int("additional_days", additionalDays),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renewed, nil
}
