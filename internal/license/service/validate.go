package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/license/domain"
)

// errConcurrencyFull signals that every slot on the attempted license is
// occupied. Callers translate it into the session-listing response.
var errConcurrencyFull = errors.New("concurrent session limit reached")

func (s *Service) Validate(ctx context.Context, userID snowflake.ID, req domain.ValidateRequest) (*domain.ValidationResponse, error) {
	if strings.TrimSpace(req.DeviceFingerprint) == "" {
		return nil, domain.NewError("INVALID_REQUEST", "deviceFingerprint is required")
	}

	var resp *domain.ValidationResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()

		if req.LicenseID != "" {
			license, err := s.lockOwnedLicense(ctx, tx, userID, req)
			if err != nil {
				return err
			}
			resp, err = s.performActivation(ctx, tx, license, req, true, now)
			if errors.Is(err, errConcurrencyFull) {
				resp, err = s.allLicensesFullResponse(ctx, tx, []domain.License{*license}, now)
			}
			return err
		}

		candidates, err := s.usableCandidates(ctx, tx, userID, req, now)
		if err != nil {
			return err
		}
		resp, err = s.autoResolve(ctx, tx, candidates, req, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) Heartbeat(ctx context.Context, userID snowflake.ID, req domain.ValidateRequest) (*domain.ValidationResponse, error) {
	if strings.TrimSpace(req.DeviceFingerprint) == "" {
		return nil, domain.NewError("INVALID_REQUEST", "deviceFingerprint is required")
	}

	var resp *domain.ValidationResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()

		if req.LicenseID != "" {
			license, err := s.lockOwnedLicense(ctx, tx, userID, req)
			if err != nil {
				return err
			}
			resp, err = s.performActivation(ctx, tx, license, req, false, now)
			if errors.Is(err, errConcurrencyFull) {
				resp, err = s.allLicensesFullResponse(ctx, tx, []domain.License{*license}, now)
			}
			return err
		}

		candidates, err := s.usableCandidates(ctx, tx, userID, req, now)
		if err != nil {
			if errors.Is(err, domain.ErrLicenseNotFoundForProduct) {
				// Heartbeat never creates bindings, so an empty candidate
				// set means the session is simply unknown.
				return domain.ErrActivationNotFound
			}
			return err
		}

		sawDeadBinding := false
		for i := range candidates {
			license := &candidates[i]
			act, err := s.repo.FindActivation(ctx, tx, license.ID, req.DeviceFingerprint)
			if err != nil {
				return err
			}
			if act == nil {
				continue
			}
			if act.Status != domain.ActivationStatusActive {
				sawDeadBinding = true
				continue
			}
			resp, err = s.performActivation(ctx, tx, license, req, false, now)
			if errors.Is(err, errConcurrencyFull) {
				resp, err = s.allLicensesFullResponse(ctx, tx, []domain.License{*license}, now)
			}
			return err
		}
		if sawDeadBinding {
			return domain.ErrSessionDeactivated
		}
		return domain.ErrActivationNotFound
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) ForceValidate(ctx context.Context, userID snowflake.ID, req domain.ForceValidateRequest) (*domain.ValidationResponse, error) {
	if strings.TrimSpace(req.DeviceFingerprint) == "" || len(req.ActivationIDsToDeactivate) == 0 {
		return nil, domain.NewError("INVALID_REQUEST", "deviceFingerprint and activationIdsToDeactivate are required")
	}
	if req.LicenseID == "" {
		return nil, domain.NewError("INVALID_REQUEST", "licenseId is required for force validation")
	}

	targetIDs := make([]snowflake.ID, 0, len(req.ActivationIDsToDeactivate))
	for _, raw := range req.ActivationIDsToDeactivate {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return nil, domain.NewError("INVALID_REQUEST", "invalid activation id")
		}
		targetIDs = append(targetIDs, id)
	}

	var resp *domain.ValidationResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		license, err := s.lockOwnedLicense(ctx, tx, userID, req.ValidateRequest)
		if err != nil {
			return err
		}

		targets, err := s.repo.FindActivationsByIDs(ctx, tx, targetIDs)
		if err != nil {
			return err
		}
		if len(targets) != len(targetIDs) {
			return domain.ErrActivationNotFound
		}
		// Every target must be a session on the force-validated license;
		// sessions on the caller's other licenses are off limits.
		for i := range targets {
			if targets[i].LicenseID != license.ID {
				return domain.ErrInvalidActivationOwner
			}
		}

		for i := range targets {
			if targets[i].Status != domain.ActivationStatusActive {
				continue
			}
			if targets[i].DeviceFingerprint == req.DeviceFingerprint {
				continue
			}
			targets[i].Deactivate(domain.DeactivateReasonForceValidate, now)
			if err := s.repo.SaveActivation(ctx, tx, &targets[i]); err != nil {
				return err
			}
		}

		s.log.Info("sessions force terminated",
			zap.String("license_id", license.ID.String()),
			zap.Int("terminated", len(targets)),
		)

		// Another device may have grabbed the slot between the listing and
		// this call; performActivation re-checks and reports full again.
		resp, err = s.performActivation(ctx, tx, license, req.ValidateRequest, true, now)
		if errors.Is(err, errConcurrencyFull) {
			resp, err = s.allLicensesFullResponse(ctx, tx, []domain.License{*license}, now)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// lockOwnedLicense resolves an explicitly addressed license, locks it and
// enforces ownership and product scope.
func (s *Service) lockOwnedLicense(ctx context.Context, tx *gorm.DB, userID snowflake.ID, req domain.ValidateRequest) (*domain.License, error) {
	licenseID, err := snowflake.ParseString(strings.TrimSpace(req.LicenseID))
	if err != nil {
		return nil, domain.NewError("INVALID_REQUEST", "invalid license id")
	}
	license, err := s.repo.FindByIDForUpdate(ctx, tx, licenseID)
	if err != nil {
		return nil, err
	}
	if !license.IsOwnedBy(userID) {
		return nil, domain.ErrAccessDenied
	}
	productID, err := s.resolveProductScope(ctx, req)
	if err != nil {
		return nil, err
	}
	if productID != nil && license.ProductID != *productID {
		return nil, domain.ErrLicenseNotFoundForProduct
	}
	return license, nil
}

// resolveProductScope maps an optional productId or productCode to a product
// ID filter.
func (s *Service) resolveProductScope(ctx context.Context, req domain.ValidateRequest) (*snowflake.ID, error) {
	if req.ProductID != "" {
		id, err := snowflake.ParseString(strings.TrimSpace(req.ProductID))
		if err != nil {
			return nil, domain.NewError("INVALID_REQUEST", "invalid product id")
		}
		return &id, nil
	}
	if req.ProductCode != "" {
		product, err := s.products.GetByCode(ctx, req.ProductCode)
		if err != nil {
			return nil, err
		}
		return &product.ID, nil
	}
	return nil, nil
}

// usableCandidates locks the caller's activated licenses and keeps the ones
// whose effective status still permits validation. ACTIVE sorts before grace;
// within equal status the latest-expiring license wins, perpetual first.
func (s *Service) usableCandidates(ctx context.Context, tx *gorm.DB, userID snowflake.ID, req domain.ValidateRequest, now time.Time) ([]domain.License, error) {
	productID, err := s.resolveProductScope(ctx, req)
	if err != nil {
		return nil, err
	}
	locked, err := s.repo.FindCandidatesForUpdate(ctx, tx, domain.OwnerTypeUser, userID, productID)
	if err != nil {
		return nil, err
	}

	usable := make([]domain.License, 0, len(locked))
	for i := range locked {
		if domain.Usable(locked[i].CalculateEffectiveStatus(now)) {
			usable = append(usable, locked[i])
		}
	}
	if len(usable) == 0 {
		return nil, domain.ErrLicenseNotFoundForProduct
	}
	sort.SliceStable(usable, func(i, j int) bool {
		si := usable[i].CalculateEffectiveStatus(now)
		sj := usable[j].CalculateEffectiveStatus(now)
		if si != sj {
			return si == domain.LicenseStatusActive
		}
		return expiresLater(usable[i].ValidUntil, usable[j].ValidUntil)
	})
	return usable, nil
}

// expiresLater orders a before b when a expires later; a nil validUntil
// (perpetual) is treated as maximal.
func expiresLater(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.After(*b)
}

// autoResolve finds a slot across the candidate licenses in two passes:
// device affinity and free slots first, then reclaim of the oldest stale
// session. Only when both passes fail does the user get the session listing.
func (s *Service) autoResolve(ctx context.Context, tx *gorm.DB, candidates []domain.License, req domain.ValidateRequest, now time.Time) (*domain.ValidationResponse, error) {
	// Pass 1a: a license where this device already holds a live session.
	for i := range candidates {
		license := &candidates[i]
		act, err := s.repo.FindActivation(ctx, tx, license.ID, req.DeviceFingerprint)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(license.SessionTTLMinutes()) * time.Minute
		if act != nil && act.OccupiesSlot(now, ttl) {
			return s.performActivation(ctx, tx, license, req, true, now)
		}
	}

	// Pass 1b: a license with a free slot.
	var seatLimited *domain.ValidationResponse
	for i := range candidates {
		license := &candidates[i]
		ttl := time.Duration(license.SessionTTLMinutes()) * time.Minute
		occupied, err := s.repo.FindActiveSessions(ctx, tx, license.ID, now.Add(-ttl))
		if err != nil {
			return nil, err
		}
		if len(occupied) >= license.MaxConcurrentSessions() {
			continue
		}
		resp, err := s.performActivation(ctx, tx, license, req, true, now)
		if err != nil {
			return nil, err
		}
		if !resp.Valid && resp.ErrorCode == domain.ErrActivationLimitExceeded.Code {
			// Slot free but no seat left on this license; try the next.
			if seatLimited == nil {
				seatLimited = resp
			}
			continue
		}
		return resp, nil
	}

	// Pass 2: reclaim the oldest stale session on any candidate.
	staleThreshold := time.Duration(s.cfg.StaleThresholdMinutes) * time.Minute
	for i := range candidates {
		license := &candidates[i]
		stale, err := s.repo.FindStaleSessions(ctx, tx, license.ID, now.Add(-staleThreshold))
		if err != nil {
			return nil, err
		}
		if len(stale) == 0 {
			continue
		}
		oldest := stale[0]
		if oldest.DeviceFingerprint == req.DeviceFingerprint {
			// The caller's own lapsed session is refreshed by activation,
			// not reclaimed.
			return s.performActivation(ctx, tx, license, req, true, now)
		}
		oldest.Deactivate(domain.DeactivateReasonAutoResolveStale, now)
		if err := s.repo.SaveActivation(ctx, tx, &oldest); err != nil {
			return nil, err
		}
		s.log.Info("stale session reclaimed",
			zap.String("license_id", license.ID.String()),
			zap.String("activation_id", oldest.ID.String()),
		)

		resp, err := s.performActivation(ctx, tx, license, req, true, now)
		if err != nil {
			return nil, err
		}
		if resp.Valid {
			resp.Resolution = domain.ResolutionAutoRecovered
			resp.TerminatedSession = &domain.TerminatedSessionInfo{
				ActivationID:      oldest.ID.String(),
				DeviceFingerprint: MaskFingerprint(oldest.DeviceFingerprint),
				DeviceDisplayName: strVal(oldest.DeviceDisplayName),
				LastSeenAt:        oldest.LastSeenAt,
			}
		}
		return resp, nil
	}

	if seatLimited != nil {
		return seatLimited, nil
	}
	return s.allLicensesFullResponse(ctx, tx, candidates, now)
}

// performActivation runs the per-license activation pipeline: status gate,
// binding lookup, concurrency and seat checks, binding upsert and token
// issuance.
func (s *Service) performActivation(ctx context.Context, tx *gorm.DB, license *domain.License, req domain.ValidateRequest, allowNewActivation bool, now time.Time) (*domain.ValidationResponse, error) {
	effective := license.CalculateEffectiveStatus(now)
	if !domain.Usable(effective) {
		return statusFailureResponse(license, effective, now), nil
	}

	act, err := s.repo.FindActivation(ctx, tx, license.ID, req.DeviceFingerprint)
	if err != nil {
		return nil, err
	}
	if !allowNewActivation {
		if act == nil {
			return nil, domain.ErrActivationNotFound
		}
		if act.Status != domain.ActivationStatusActive {
			return nil, domain.ErrSessionDeactivated
		}
	}

	ttl := time.Duration(license.SessionTTLMinutes()) * time.Minute
	if act == nil || !act.OccupiesSlot(now, ttl) {
		occupied, err := s.repo.FindActiveSessions(ctx, tx, license.ID, now.Add(-ttl))
		if err != nil {
			return nil, err
		}
		others := 0
		for i := range occupied {
			if occupied[i].DeviceFingerprint != req.DeviceFingerprint {
				others++
			}
		}
		if others >= license.MaxConcurrentSessions() {
			return nil, errConcurrencyFull
		}
	}

	needsSeat := act == nil || act.Status == domain.ActivationStatusDeactivated
	if needsSeat {
		seats, err := s.repo.CountSeatsUsed(ctx, tx, license.ID)
		if err != nil {
			return nil, err
		}
		if seats >= int64(license.MaxActivations()) {
			return &domain.ValidationResponse{
				Valid:      false,
				LicenseID:  license.ID.String(),
				Status:     effective,
				ErrorCode:  domain.ErrActivationLimitExceeded.Code,
				Message:    domain.ErrActivationLimitExceeded.Message,
				ServerTime: now,
			}, nil
		}
	}

	if act == nil {
		act = &domain.Activation{
			ID:                s.genID.Generate(),
			LicenseID:         license.ID,
			DeviceFingerprint: req.DeviceFingerprint,
			Status:            domain.ActivationStatusActive,
			LastSeenAt:        now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
	}
	act.Touch(now, req.ClientVersion, req.ClientOS, req.ClientIP, req.DeviceDisplayName)

	product, err := s.products.GetByID(ctx, license.ProductID)
	if err != nil {
		return nil, err
	}
	entitlements := license.Entitlements()

	if s.offline.ShouldRenew(act.OfflineTokenExpiresAt, license.AllowOfflineDays(), now) {
		signed, err := s.offline.Issue(license.ID.String(), product.Code, req.DeviceFingerprint,
			entitlements, license.AllowOfflineDays(), license.ValidUntil, now)
		if err != nil {
			return nil, err
		}
		if signed != nil {
			act.IssueOfflineToken(signed.Token, signed.ExpiresAt, now)
		}
	}

	if err := s.repo.SaveActivation(ctx, tx, act); err != nil {
		return nil, err
	}

	resp := &domain.ValidationResponse{
		Valid:        true,
		LicenseID:    license.ID.String(),
		LicenseKey:   license.LicenseKey,
		Status:       effective,
		Resolution:   domain.ResolutionOK,
		Entitlements: entitlements,
		ValidUntil:   license.ValidUntil,
		ServerTime:   now,
	}
	if act.OfflineToken != nil && act.OfflineTokenExpiresAt != nil {
		resp.OfflineToken = &domain.OfflineTokenInfo{
			Token:     *act.OfflineToken,
			ExpiresAt: *act.OfflineTokenExpiresAt,
		}
	}

	session, err := s.session.Issue(license.ID.String(), product.Code, req.DeviceFingerprint, entitlements, now)
	if err != nil {
		return nil, err
	}
	if session != nil {
		resp.SessionToken = session.Token
	}
	return resp, nil
}

// allLicensesFullResponse lists every live session across the candidate
// licenses so the client can offer the user something to terminate.
func (s *Service) allLicensesFullResponse(ctx context.Context, tx *gorm.DB, licenses []domain.License, now time.Time) (*domain.ValidationResponse, error) {
	staleThreshold := time.Duration(s.cfg.StaleThresholdMinutes) * time.Minute
	planNames := map[snowflake.ID]string{}
	productNames := map[snowflake.ID]string{}

	var sessions []domain.SessionInfo
	for i := range licenses {
		license := &licenses[i]
		ttl := time.Duration(license.SessionTTLMinutes()) * time.Minute
		active, err := s.repo.FindActiveSessions(ctx, tx, license.ID, now.Add(-ttl))
		if err != nil {
			return nil, err
		}

		planName := ""
		if license.PlanID != nil {
			name, ok := planNames[*license.PlanID]
			if !ok {
				if plan, err := s.plans.GetByID(ctx, *license.PlanID); err == nil {
					name = plan.Name
				}
				planNames[*license.PlanID] = name
			}
			planName = name
		}
		productName, ok := productNames[license.ProductID]
		if !ok {
			if product, err := s.products.GetByID(ctx, license.ProductID); err == nil {
				productName = product.Name
			}
			productNames[license.ProductID] = productName
		}

		for j := range active {
			sessions = append(sessions, domain.SessionInfo{
				ActivationID:      active[j].ID.String(),
				LicenseID:         license.ID.String(),
				LicenseKey:        license.LicenseKey,
				PlanName:          planName,
				ProductName:       productName,
				DeviceFingerprint: MaskFingerprint(active[j].DeviceFingerprint),
				DeviceDisplayName: strVal(active[j].DeviceDisplayName),
				ClientOS:          strVal(active[j].ClientOS),
				LastSeenAt:        active[j].LastSeenAt,
				Stale:             active[j].IsStale(now, staleThreshold),
			})
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastSeenAt.After(sessions[j].LastSeenAt)
	})

	return &domain.ValidationResponse{
		Valid:          false,
		Resolution:     domain.ResolutionUserActionRequired,
		ErrorCode:      domain.ErrAllLicensesFull.Code,
		Message:        domain.ErrAllLicensesFull.Message,
		ActionRequired: domain.ActionKickRequired,
		ActiveSessions: sessions,
		ServerTime:     now,
	}, nil
}

func statusFailureResponse(license *domain.License, effective domain.LicenseStatus, now time.Time) *domain.ValidationResponse {
	var code, message string
	switch effective {
	case domain.LicenseStatusExpiredHard:
		code, message = domain.ErrLicenseExpired.Code, domain.ErrLicenseExpired.Message
	case domain.LicenseStatusSuspended:
		code, message = domain.ErrLicenseSuspended.Code, domain.ErrLicenseSuspended.Message
	case domain.LicenseStatusRevoked:
		code, message = domain.ErrLicenseRevoked.Code, domain.ErrLicenseRevoked.Message
	default:
		code, message = domain.ErrInvalidLicenseState.Code, "license is not yet valid"
	}
	return &domain.ValidationResponse{
		Valid:      false,
		LicenseID:  license.ID.String(),
		Status:     effective,
		ErrorCode:  code,
		Message:    message,
		ValidUntil: license.ValidUntil,
		ServerTime: now,
	}
}

// MaskFingerprint hides the middle of a device fingerprint for display.
// Fingerprints of eight characters or fewer are fully masked.
func MaskFingerprint(fingerprint string) string {
	if len(fingerprint) <= 8 {
		return "****"
	}
	return fingerprint[:4] + "****" + fingerprint[len(fingerprint)-4:]
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
