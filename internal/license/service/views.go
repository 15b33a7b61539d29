package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/license/domain"
)

func (s *Service) Get(ctx context.Context, licenseID snowflake.ID) (*domain.LicenseView, error) {
	license, err := s.repo.FindByID(ctx, s.db, licenseID)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, s.db, license, true)
}

func (s *Service) GetOwned(ctx context.Context, userID, licenseID snowflake.ID) (*domain.LicenseView, error) {
	license, err := s.repo.FindByID(ctx, s.db, licenseID)
	if err != nil {
		return nil, err
	}
	if !license.IsOwnedBy(userID) {
		return nil, domain.ErrAccessDenied
	}
	return s.buildView(ctx, s.db, license, true)
}

// GetByKey looks a license up by its printed key, for support tooling.
func (s *Service) GetByKey(ctx context.Context, key string) (*domain.LicenseView, error) {
	license, err := s.repo.FindByKey(ctx, s.db, normalizeLicenseKey(key))
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, s.db, license, true)
}

func (s *Service) ListOwned(ctx context.Context, userID snowflake.ID, productID *snowflake.ID) ([]domain.LicenseView, error) {
	licenses, err := s.repo.ListByOwner(ctx, s.db, domain.OwnerTypeUser, userID, productID)
	if err != nil {
		return nil, err
	}
	views := make([]domain.LicenseView, 0, len(licenses))
	for i := range licenses {
		view, err := s.buildView(ctx, s.db, &licenses[i], false)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

func (s *Service) Deactivate(ctx context.Context, userID, licenseID snowflake.ID, fingerprint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err := s.repo.FindByIDForUpdate(ctx, tx, licenseID)
		if err != nil {
			return err
		}
		if !license.IsOwnedBy(userID) {
			return domain.ErrAccessDenied
		}
		act, err := s.repo.FindActivation(ctx, tx, licenseID, fingerprint)
		if err != nil {
			return err
		}
		if act == nil || act.Status == domain.ActivationStatusDeactivated {
			return domain.ErrActivationNotFound
		}
		act.Deactivate(domain.DeactivateReasonUserRequest, s.clock.Now())
		if err := s.repo.SaveActivation(ctx, tx, act); err != nil {
			return err
		}
		s.log.Info("activation released",
			zap.String("license_id", licenseID.String()),
			zap.String("activation_id", act.ID.String()),
		)
		return nil
	})
}

func (s *Service) buildView(ctx context.Context, db *gorm.DB, license *domain.License, includeActivations bool) (*domain.LicenseView, error) {
	now := s.clock.Now()
	ttl := time.Duration(license.SessionTTLMinutes()) * time.Minute

	activations, err := s.repo.ListActivations(ctx, db, license.ID)
	if err != nil {
		return nil, err
	}
	activeDevices := 0
	for i := range activations {
		if activations[i].OccupiesSlot(now, ttl) {
			activeDevices++
		}
	}

	view := &domain.LicenseView{
		ID:             license.ID.String(),
		LicenseKey:     license.LicenseKey,
		ProductID:      license.ProductID.String(),
		LicenseType:    license.LicenseType,
		UsageCategory:  license.UsageCategory,
		Status:         license.CalculateEffectiveStatus(now),
		ValidFrom:      license.ValidFrom,
		ValidUntil:     license.ValidUntil,
		MaxActivations: license.MaxActivations(),
		ActiveDevices:  activeDevices,
	}

	if product, err := s.products.GetByID(ctx, license.ProductID); err == nil {
		view.ProductName = product.Name
	}
	if license.PlanID != nil {
		if plan, err := s.plans.GetByID(ctx, *license.PlanID); err == nil {
			view.PlanName = plan.Name
		}
	}

	if includeActivations {
		views := make([]domain.ActivationView, 0, len(activations))
		for i := range activations {
			a := &activations[i]
			views = append(views, domain.ActivationView{
				ID:                a.ID.String(),
				DeviceFingerprint: MaskFingerprint(a.DeviceFingerprint),
				DeviceDisplayName: strVal(a.DeviceDisplayName),
				ClientOS:          strVal(a.ClientOS),
				ClientVersion:     strVal(a.ClientVersion),
				Status:            a.Status,
				LastSeenAt:        a.LastSeenAt,
			})
		}
		view.Activations = views
	}
	return view, nil
}
