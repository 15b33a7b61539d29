package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/clock"
	"github.com/bulc-app/license-server/internal/config"
	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	plandomain "github.com/bulc-app/license-server/internal/plan/domain"
	productdomain "github.com/bulc-app/license-server/internal/product/domain"
	"github.com/bulc-app/license-server/internal/redeem/domain"
	pkgdb "github.com/bulc-app/license-server/pkg/db"
)

// codeAlphabet omits 0/O/1/I so printed vouchers survive retyping.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const generatedCodeLength = 16

type AdminParams struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Plans    plandomain.Service
	Products productdomain.Service
}

type AdminService struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	hasher   *domain.CodeHasher
	plans    plandomain.Service
	products productdomain.Service
}

func NewAdmin(p AdminParams) domain.AdminService {
	return &AdminService{
		db:       p.DB,
		log:      p.Log.Named("redeem.admin"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		hasher:   domain.NewCodeHasher(p.Config.Redeem.CodePepper),
		plans:    p.Plans,
		products: p.Products,
	}
}

func (s *AdminService) CreateCampaign(ctx context.Context, req domain.CreateCampaignRequest) (*domain.Campaign, error) {
	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil {
		return nil, licensedomain.NewError("INVALID_REQUEST", "invalid plan id")
	}
	if _, err := s.plans.GetAvailableByID(ctx, planID); err != nil {
		return nil, err
	}
	if req.StartsAt != nil && req.EndsAt != nil && req.EndsAt.Before(*req.StartsAt) {
		return nil, licensedomain.NewError("INVALID_REQUEST", "endsAt precedes startsAt")
	}

	usage := req.UsageCategory
	if usage == "" {
		usage = licensedomain.UsageCategoryPromotional
	}
	perUserLimit := req.PerUserLimit
	if perUserLimit <= 0 {
		perUserLimit = 1
	}

	now := s.clock.Now()
	campaign := &domain.Campaign{
		ID:            s.genID.Generate(),
		Name:          strings.TrimSpace(req.Name),
		PlanID:        planID,
		Status:        domain.CampaignStatusActive,
		UsageCategory: usage,
		MaxSeats:      req.MaxSeats,
		PerUserLimit:  perUserLimit,
		StartsAt:      req.StartsAt,
		EndsAt:        req.EndsAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertCampaign(ctx, s.db, campaign); err != nil {
		return nil, err
	}

	s.log.Info("redeem campaign created",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("name", campaign.Name),
	)
	return campaign, nil
}

func (s *AdminService) UpdateCampaign(ctx context.Context, id snowflake.ID, req domain.UpdateCampaignRequest) (*domain.Campaign, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status == domain.CampaignStatusEnded {
		return nil, licensedomain.NewError("INVALID_REQUEST", "campaign has ended")
	}

	if req.Name != nil {
		campaign.Name = strings.TrimSpace(*req.Name)
	}
	if req.MaxSeats != nil {
		campaign.MaxSeats = *req.MaxSeats
	}
	if req.PerUserLimit != nil && *req.PerUserLimit > 0 {
		campaign.PerUserLimit = *req.PerUserLimit
	}
	if req.StartsAt != nil {
		campaign.StartsAt = req.StartsAt
	}
	if req.EndsAt != nil {
		campaign.EndsAt = req.EndsAt
	}
	if campaign.StartsAt != nil && campaign.EndsAt != nil && campaign.EndsAt.Before(*campaign.StartsAt) {
		return nil, licensedomain.NewError("INVALID_REQUEST", "endsAt precedes startsAt")
	}

	campaign.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveCampaign(ctx, s.db, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *AdminService) GetCampaign(ctx context.Context, id snowflake.ID) (*domain.CampaignView, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, campaign)
}

func (s *AdminService) ListCampaigns(ctx context.Context) ([]domain.CampaignView, error) {
	campaigns, err := s.repo.ListCampaigns(ctx, s.db)
	if err != nil {
		return nil, err
	}
	views := make([]domain.CampaignView, 0, len(campaigns))
	for i := range campaigns {
		view, err := s.buildView(ctx, &campaigns[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

func (s *AdminService) ResumeCampaign(ctx context.Context, id snowflake.ID) (*domain.Campaign, error) {
	return s.transition(ctx, id, domain.CampaignStatusActive, domain.CampaignStatusPaused, domain.CampaignStatusDraft)
}

func (s *AdminService) PauseCampaign(ctx context.Context, id snowflake.ID) (*domain.Campaign, error) {
	return s.transition(ctx, id, domain.CampaignStatusPaused, domain.CampaignStatusActive)
}

func (s *AdminService) EndCampaign(ctx context.Context, id snowflake.ID) (*domain.Campaign, error) {
	return s.transition(ctx, id, domain.CampaignStatusEnded,
		domain.CampaignStatusDraft, domain.CampaignStatusActive, domain.CampaignStatusPaused)
}

// transition moves a campaign to a target status when its current status is
// one of the allowed sources. ENDED is terminal.
func (s *AdminService) transition(ctx context.Context, id snowflake.ID, to domain.CampaignStatus, from ...domain.CampaignStatus) (*domain.Campaign, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	ok := false
	for _, f := range from {
		if campaign.Status == f {
			ok = true
			break
		}
	}
	if !ok {
		return nil, licensedomain.NewError("INVALID_REQUEST", "campaign cannot move to "+string(to)+" from "+string(campaign.Status))
	}
	campaign.Status = to
	campaign.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveCampaign(ctx, s.db, campaign); err != nil {
		return nil, err
	}
	s.log.Info("redeem campaign status changed",
		zap.String("campaign_id", id.String()),
		zap.String("status", string(to)),
	)
	return campaign, nil
}

func (s *AdminService) GenerateCodes(ctx context.Context, campaignID snowflake.ID, req domain.GenerateCodesRequest) ([]domain.GeneratedCode, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, s.db, campaignID)
	if err != nil {
		return nil, err
	}
	maxRedemptions := req.MaxRedemptions
	if maxRedemptions <= 0 {
		maxRedemptions = 1
	}

	now := s.clock.Now()
	generated := make([]domain.GeneratedCode, 0, req.Count)
	for len(generated) < req.Count {
		plaintext, err := randomCode()
		if err != nil {
			return nil, err
		}
		normalized, err := s.hasher.Normalize(plaintext)
		if err != nil {
			return nil, err
		}
		code := &domain.Code{
			ID:             s.genID.Generate(),
			CampaignID:     campaign.ID,
			CodeHash:       s.hasher.Hash(normalized),
			Status:         domain.CodeStatusActive,
			MaxRedemptions: maxRedemptions,
			ExpiresAt:      req.ExpiresAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.InsertCode(ctx, s.db, code); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				continue
			}
			return nil, err
		}
		generated = append(generated, domain.GeneratedCode{Code: *code, Plaintext: plaintext})
	}

	s.log.Info("redeem codes generated",
		zap.String("campaign_id", campaignID.String()),
		zap.Int("count", len(generated)),
	)
	return generated, nil
}

func (s *AdminService) AddCode(ctx context.Context, campaignID snowflake.ID, req domain.AddCodeRequest) (*domain.Code, error) {
	campaign, err := s.repo.FindCampaignByID(ctx, s.db, campaignID)
	if err != nil {
		return nil, err
	}
	normalized, err := s.hasher.Normalize(req.Code)
	if err != nil {
		return nil, err
	}
	maxRedemptions := req.MaxRedemptions
	if maxRedemptions <= 0 {
		maxRedemptions = 1
	}

	now := s.clock.Now()
	code := &domain.Code{
		ID:             s.genID.Generate(),
		CampaignID:     campaign.ID,
		CodeHash:       s.hasher.Hash(normalized),
		Status:         domain.CodeStatusActive,
		MaxRedemptions: maxRedemptions,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertCode(ctx, s.db, code); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCodeHashDuplicate
		}
		return nil, err
	}
	return code, nil
}

func (s *AdminService) ListCodes(ctx context.Context, campaignID snowflake.ID) ([]domain.Code, error) {
	if _, err := s.repo.FindCampaignByID(ctx, s.db, campaignID); err != nil {
		return nil, err
	}
	return s.repo.ListCodesByCampaign(ctx, s.db, campaignID)
}

func (s *AdminService) DisableCode(ctx context.Context, codeID snowflake.ID) (*domain.Code, error) {
	code, err := s.repo.FindCodeByID(ctx, s.db, codeID)
	if err != nil {
		return nil, err
	}
	code.Status = domain.CodeStatusDisabled
	code.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveCode(ctx, s.db, code); err != nil {
		return nil, err
	}
	return code, nil
}

func (s *AdminService) DeleteCode(ctx context.Context, codeID snowflake.ID) error {
	if _, err := s.repo.FindCodeByID(ctx, s.db, codeID); err != nil {
		return err
	}
	return s.repo.DeleteCode(ctx, s.db, codeID)
}

// ListRedemptions returns the claim audit trail for a campaign.
func (s *AdminService) ListRedemptions(ctx context.Context, campaignID snowflake.ID) ([]domain.Redemption, error) {
	if _, err := s.repo.FindCampaignByID(ctx, s.db, campaignID); err != nil {
		return nil, err
	}
	return s.repo.ListRedemptionsByCampaign(ctx, s.db, campaignID)
}

func (s *AdminService) buildView(ctx context.Context, campaign *domain.Campaign) (*domain.CampaignView, error) {
	codes, err := s.repo.ListCodesByCampaign(ctx, s.db, campaign.ID)
	if err != nil {
		return nil, err
	}
	redemptions := 0
	for i := range codes {
		redemptions += codes[i].Redemptions
	}

	view := &domain.CampaignView{
		Campaign:    *campaign,
		CodeCount:   len(codes),
		Redemptions: redemptions,
	}
	if plan, err := s.plans.GetByID(ctx, campaign.PlanID); err == nil {
		view.PlanName = plan.Name
		if product, err := s.products.GetByID(ctx, plan.ProductID); err == nil {
			view.ProductName = product.Name
		}
	}
	return view, nil
}

// randomCode mints a 16-character code rendered in dash-separated groups of
// four. Normalization strips the dashes before hashing.
func randomCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	chars := make([]byte, generatedCodeLength)
	for i := range chars {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		chars[i] = codeAlphabet[n.Int64()]
	}
	s := string(chars)
	return s[0:4] + "-" + s[4:8] + "-" + s[8:12] + "-" + s[12:16], nil
}
