package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"leadforge/models"
	"leadforge/utils"
)

type LeadService struct {
	db       *gorm.DB
	verifier utils.Verifier
	enricher utils.Enricher
	logger   *logrus.Logger
	now      Clock
	// async runs background jobs; tests swap it for a synchronous call.
	async func(func())
}

func NewLeadService(db *gorm.DB, verifier utils.Verifier, enricher utils.Enricher, logger *logrus.Logger) *LeadService {
	return &LeadService{
		db:       db,
		verifier: verifier,
		enricher: enricher,
		logger:   logger,
		now:      utcNow,
		async:    func(f func()) { go f() },
	}
}

type CreateLeadInput struct {
	Email           string   `json:"email" validate:"omitempty,email,max=255"`
	FirstName       string   `json:"first_name" validate:"max=100"`
	LastName        string   `json:"last_name" validate:"max=100"`
	FullName        string   `json:"full_name" validate:"max=200"`
	Title           string   `json:"title" validate:"max=200"`
	Company         string   `json:"company" validate:"max=200"`
	CompanyURL      string   `json:"company_url" validate:"omitempty,url"`
	Phone           string   `json:"phone" validate:"max=50"`
	LinkedInURL     string   `json:"linkedin_url" validate:"omitempty,url"`
	TwitterHandle   string   `json:"twitter_handle" validate:"max=100"`
	InstagramHandle string   `json:"instagram_handle" validate:"max=100"`
	City            string   `json:"city" validate:"max=100"`
	State           string   `json:"state" validate:"max=100"`
	Country         string   `json:"country" validate:"max=100"`
	Industry        string   `json:"industry" validate:"max=100"`
	CompanySize     string   `json:"company_size" validate:"max=50"`
	Source          string   `json:"source" validate:"omitempty,oneof=linkedin instagram google_maps custom_urls import api manual"`
	Tags            []string `json:"tags"`
	Notes           string   `json:"notes" validate:"max=5000"`
}

// trimmed strips surrounding whitespace so validation sees the value that
// will be stored.
func (in CreateLeadInput) trimmed() CreateLeadInput {
	for _, f := range []*string{
		&in.Email, &in.FirstName, &in.LastName, &in.FullName, &in.Title,
		&in.Company, &in.CompanyURL, &in.Phone, &in.LinkedInURL,
		&in.TwitterHandle, &in.InstagramHandle, &in.City, &in.State,
		&in.Country, &in.Industry, &in.CompanySize, &in.Source, &in.Notes,
	} {
		*f = strings.TrimSpace(*f)
	}
	return in
}

func (in CreateLeadInput) toLead(companyID, userID uint, fallback models.LeadSource) models.Lead {
	source := models.LeadSource(in.Source)
	if source == "" {
		source = fallback
	}
	lead := models.Lead{
		CompanyID:       companyID,
		FirstName:       strings.TrimSpace(in.FirstName),
		LastName:        strings.TrimSpace(in.LastName),
		FullName:        strings.TrimSpace(in.FullName),
		Title:           in.Title,
		CompanyName:     in.Company,
		CompanyURL:      in.CompanyURL,
		Email:           utils.NormalizeEmail(in.Email),
		EmailStatus:     models.EmailUnverified,
		Phone:           in.Phone,
		LinkedInURL:     in.LinkedInURL,
		TwitterHandle:   in.TwitterHandle,
		InstagramHandle: in.InstagramHandle,
		City:            in.City,
		State:           in.State,
		Country:         in.Country,
		Industry:        in.Industry,
		CompanySize:     in.CompanySize,
		Source:          source,
		Tags:            in.Tags,
		Notes:           in.Notes,
	}
	if userID != 0 {
		lead.CreatedBy = &userID
	}
	lead.RefreshFullName()
	return lead
}

type UpdateLeadInput struct {
	Email       *string   `json:"email" validate:"omitempty,email,max=255"`
	FirstName   *string   `json:"first_name" validate:"omitempty,max=100"`
	LastName    *string   `json:"last_name" validate:"omitempty,max=100"`
	Title       *string   `json:"title" validate:"omitempty,max=200"`
	Company     *string   `json:"company" validate:"omitempty,max=200"`
	CompanyURL  *string   `json:"company_url" validate:"omitempty,url"`
	Phone       *string   `json:"phone" validate:"omitempty,max=50"`
	LinkedInURL *string   `json:"linkedin_url" validate:"omitempty,url"`
	City        *string   `json:"city" validate:"omitempty,max=100"`
	State       *string   `json:"state" validate:"omitempty,max=100"`
	Country     *string   `json:"country" validate:"omitempty,max=100"`
	Industry    *string   `json:"industry" validate:"omitempty,max=100"`
	CompanySize *string   `json:"company_size" validate:"omitempty,max=50"`
	Tags        *[]string `json:"tags"`
	Notes       *string   `json:"notes" validate:"omitempty,max=5000"`
}

func (in UpdateLeadInput) trimmed() UpdateLeadInput {
	for _, f := range []**string{
		&in.Email, &in.FirstName, &in.LastName, &in.Title, &in.Company,
		&in.CompanyURL, &in.Phone, &in.LinkedInURL, &in.City, &in.State,
		&in.Country, &in.Industry, &in.CompanySize, &in.Notes,
	} {
		if *f != nil {
			v := strings.TrimSpace(**f)
			*f = &v
		}
	}
	return in
}

// LeadFilter narrows List and Export.
type LeadFilter struct {
	Search        string
	Source        string
	EmailStatus   string
	CompanySize   string
	Industry      string
	Tag           string
	ScrapingJobID uint
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Sort          string
	Order         string
}

var leadSortColumns = map[string]string{
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"email":        "email",
	"full_name":    "full_name",
	"company":      "company",
	"email_status": "email_status",
}

func (f LeadFilter) apply(q *gorm.DB) (*gorm.DB, error) {
	if f.Search != "" {
		like := "%" + strings.ToLower(f.Search) + "%"
		q = q.Where("LOWER(email) LIKE ? OR LOWER(full_name) LIKE ? OR LOWER(company) LIKE ? OR LOWER(title) LIKE ?", like, like, like, like)
	}
	if f.Source != "" {
		src, err := models.ParseLeadSource(f.Source)
		if err != nil {
			return nil, models.NewValidation(err.Error(), map[string]string{"source": "unknown source"})
		}
		q = q.Where("source = ?", src)
	}
	if f.EmailStatus != "" {
		st, err := models.ParseEmailStatus(f.EmailStatus)
		if err != nil {
			return nil, models.NewValidation(err.Error(), map[string]string{"email_status": "unknown email status"})
		}
		q = q.Where("email_status = ?", st)
	}
	if f.CompanySize != "" {
		q = q.Where("company_size = ?", f.CompanySize)
	}
	if f.Industry != "" {
		q = q.Where("LOWER(industry) = ?", strings.ToLower(f.Industry))
	}
	if f.Tag != "" {
		q = q.Where("CAST(tags AS TEXT) LIKE ?", `%"`+f.Tag+`"%`)
	}
	if f.ScrapingJobID != 0 {
		q = q.Where("scraping_job_id = ?", f.ScrapingJobID)
	}
	if f.CreatedFrom != nil {
		q = q.Where("created_at >= ?", f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		q = q.Where("created_at < ?", f.CreatedTo.UTC())
	}
	return q, nil
}

func (f LeadFilter) orderBy() string {
	col, ok := leadSortColumns[f.Sort]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(f.Order, "asc") {
		dir = "ASC"
	}
	return col + " " + dir + ", id " + dir
}

// leadQuota returns the company's lead limit and how many more leads it may
// store. A limit of zero or less means unlimited and remaining is -1.
func leadQuota(tx *gorm.DB, companyID uint) (limit, remaining int, err error) {
	var company models.Company
	if err := tx.Select("id", "leads_limit").Where("id = ?", companyID).First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, models.NewNotFound("company", companyID)
		}
		return 0, 0, err
	}
	if company.LeadsLimit <= 0 {
		return 0, -1, nil
	}
	var used int64
	if err := tx.Model(&models.Lead{}).Where("company_id = ?", companyID).Count(&used).Error; err != nil {
		return 0, 0, err
	}
	remaining = company.LeadsLimit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return company.LeadsLimit, remaining, nil
}

func checkLeadQuota(tx *gorm.DB, companyID uint, requested int) error {
	limit, remaining, err := leadQuota(tx, companyID)
	if err != nil {
		return err
	}
	if remaining >= 0 && requested > remaining {
		return models.NewQuotaExceeded("leads", limit, requested)
	}
	return nil
}

func (s *LeadService) Create(ctx context.Context, companyID, userID uint, in CreateLeadInput) (*models.Lead, error) {
	in = in.trimmed()
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	lead := in.toLead(companyID, userID, models.SourceManual)
	if lead.Email == "" && lead.FullName == "" && lead.LinkedInURL == "" {
		return nil, models.NewValidation("lead needs an email, a name or a linkedin url", map[string]string{"email": "required"})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkLeadQuota(tx, companyID, 1); err != nil {
			return err
		}
		if lead.Email != "" {
			var n int64
			if err := tx.Model(&models.Lead{}).Where("company_id = ? AND email = ?", companyID, lead.Email).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return models.NewConflict("a lead with this email already exists")
			}
		}
		return tx.Create(&lead).Error
	})
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (s *LeadService) List(ctx context.Context, companyID uint, f LeadFilter, p utils.Pagination) ([]models.Lead, int64, error) {
	q, err := f.apply(s.db.WithContext(ctx).Model(&models.Lead{}).Where("company_id = ?", companyID))
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var leads []models.Lead
	err = q.Order(f.orderBy()).Offset(p.Offset()).Limit(p.Limit).Find(&leads).Error
	return leads, total, err
}

func (s *LeadService) Get(ctx context.Context, companyID, id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := findOwned(s.db.WithContext(ctx), &lead, companyID, id, "lead"); err != nil {
		return nil, err
	}
	return &lead, nil
}

func (s *LeadService) Update(ctx context.Context, companyID, id uint, in UpdateLeadInput) (*models.Lead, error) {
	in = in.trimmed()
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}

	var lead models.Lead
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := findOwned(tx, &lead, companyID, id, "lead"); err != nil {
			return err
		}

		set := func(dst *string, v *string) {
			if v != nil {
				*dst = strings.TrimSpace(*v)
			}
		}
		if in.Email != nil {
			email := utils.NormalizeEmail(*in.Email)
			if email != lead.Email {
				var n int64
				if err := tx.Model(&models.Lead{}).Where("company_id = ? AND email = ? AND id <> ?", companyID, email, lead.ID).Count(&n).Error; err != nil {
					return err
				}
				if n > 0 {
					return models.NewConflict("a lead with this email already exists")
				}
				lead.Email = email
				lead.EmailStatus = models.EmailUnverified
				lead.EmailVerifiedAt = nil
			}
		}
		set(&lead.FirstName, in.FirstName)
		set(&lead.LastName, in.LastName)
		set(&lead.Title, in.Title)
		set(&lead.CompanyName, in.Company)
		set(&lead.CompanyURL, in.CompanyURL)
		set(&lead.Phone, in.Phone)
		set(&lead.LinkedInURL, in.LinkedInURL)
		set(&lead.City, in.City)
		set(&lead.State, in.State)
		set(&lead.Country, in.Country)
		set(&lead.Industry, in.Industry)
		set(&lead.CompanySize, in.CompanySize)
		set(&lead.Notes, in.Notes)
		if in.Tags != nil {
			lead.Tags = *in.Tags
		}
		lead.RefreshFullName()
		return tx.Save(&lead).Error
	})
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// Delete removes a lead. Leads in a running or paused campaign cannot be
// deleted; draft enrollments are dropped with it.
func (s *LeadService) Delete(ctx context.Context, companyID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lead models.Lead
		if err := findOwned(tx, &lead, companyID, id, "lead"); err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.CampaignLead{}).
			Joins("JOIN campaigns ON campaigns.id = campaign_leads.campaign_id").
			Where("campaign_leads.lead_id = ? AND campaigns.status IN ?", lead.ID,
				[]models.CampaignStatus{models.CampaignRunning, models.CampaignPaused}).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return models.NewConflict("lead is enrolled in an active campaign")
		}

		var draftCampaigns []uint
		if err := tx.Model(&models.CampaignLead{}).
			Joins("JOIN campaigns ON campaigns.id = campaign_leads.campaign_id").
			Where("campaign_leads.lead_id = ? AND campaigns.status = ?", lead.ID, models.CampaignDraft).
			Pluck("campaign_leads.campaign_id", &draftCampaigns).Error; err != nil {
			return err
		}
		if len(draftCampaigns) > 0 {
			if err := tx.Where("lead_id = ? AND campaign_id IN ?", lead.ID, draftCampaigns).Delete(&models.CampaignLead{}).Error; err != nil {
				return err
			}
			for _, cid := range draftCampaigns {
				if _, err := refreshTotalLeads(tx, cid); err != nil {
					return err
				}
			}
		}
		return tx.Delete(&lead).Error
	})
}

// Enrich runs the configured enricher over one lead and fills its empty
// fields.
func (s *LeadService) Enrich(ctx context.Context, companyID, id uint) (*models.Lead, error) {
	lead, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if err := s.enrichLead(ctx, s.db.WithContext(ctx), lead); err != nil {
		if errors.Is(err, utils.ErrNothingToEnrich) {
			return nil, models.NewValidation(err.Error(), map[string]string{"email": "required for enrichment"})
		}
		return nil, err
	}
	return lead, nil
}

func (s *LeadService) enrichLead(ctx context.Context, db *gorm.DB, lead *models.Lead) error {
	result, err := s.enricher.Enrich(ctx, lead)
	if err != nil {
		return err
	}
	utils.ApplyEnrichment(lead, result, s.now())
	return db.Save(lead).Error
}

// Verify classifies the lead's address and stores the status.
func (s *LeadService) Verify(ctx context.Context, companyID, id uint) (*utils.VerificationResult, error) {
	lead, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if lead.Email == "" {
		return nil, models.NewValidation("lead has no email", map[string]string{"email": "required"})
	}
	return s.verifyLead(ctx, s.db.WithContext(ctx), lead)
}

func (s *LeadService) verifyLead(ctx context.Context, db *gorm.DB, lead *models.Lead) (*utils.VerificationResult, error) {
	result, err := s.verifier.Verify(ctx, lead.Email)
	if err != nil {
		return nil, err
	}
	now := s.now()
	err = db.Model(&models.Lead{}).Where("id = ?", lead.ID).Updates(map[string]interface{}{
		"email_status":      result.Status,
		"email_verified_at": now,
	}).Error
	if err != nil {
		return nil, err
	}
	lead.EmailStatus = result.Status
	lead.EmailVerifiedAt = &now
	return result, nil
}

const maxBulkVerify = 5000

// StartVerification queues a bulk verification run over leadIDs, or over
// every unverified lead when leadIDs is empty.
func (s *LeadService) StartVerification(ctx context.Context, companyID, userID uint, leadIDs []uint) (*models.EmailVerification, error) {
	db := s.db.WithContext(ctx)
	ids := uniqueIDs(leadIDs)
	if len(ids) == 0 {
		if err := db.Model(&models.Lead{}).
			Where("company_id = ? AND email <> '' AND email_status = ?", companyID, models.EmailUnverified).
			Order("id ASC").Limit(maxBulkVerify).
			Pluck("id", &ids).Error; err != nil {
			return nil, err
		}
	} else {
		if len(ids) > maxBulkVerify {
			return nil, models.NewValidation("too many leads", map[string]string{"lead_ids": "at most 5000 per run"})
		}
		var owned []uint
		if err := db.Model(&models.Lead{}).Where("company_id = ? AND id IN ?", companyID, ids).Pluck("id", &owned).Error; err != nil {
			return nil, err
		}
		if len(owned) != len(ids) {
			return nil, models.NewNotFound("lead", missingIDs(ids, owned))
		}
	}
	if len(ids) == 0 {
		return nil, models.NewValidation("no leads to verify", map[string]string{"lead_ids": "no unverified leads"})
	}

	job := models.EmailVerification{
		CompanyID: companyID,
		Status:    models.ScrapingPending,
		LeadIDs:   ids,
		CreatedBy: userID,
	}
	if err := db.Create(&job).Error; err != nil {
		return nil, err
	}

	jobID := job.ID
	s.async(func() { s.runVerification(context.Background(), jobID) })
	return &job, nil
}

func missingIDs(want, have []uint) []uint {
	seen := make(map[uint]bool, len(have))
	for _, id := range have {
		seen[id] = true
	}
	var missing []uint
	for _, id := range want {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

const verifyConcurrency = 10

func (s *LeadService) runVerification(ctx context.Context, jobID uint) {
	db := s.db.WithContext(ctx)
	var job models.EmailVerification
	if err := db.First(&job, jobID).Error; err != nil {
		utils.LogError("verification_job_load_failed", err, map[string]interface{}{"verification_id": jobID})
		return
	}

	started := s.now()
	db.Model(&job).Updates(map[string]interface{}{"status": models.ScrapingRunning, "started_at": started})

	var (
		mu                            sync.Mutex
		valid, risky, invalid, failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for _, id := range job.LeadIDs {
		id := id
		g.Go(func() error {
			var lead models.Lead
			if err := db.Where("id = ? AND company_id = ?", id, job.CompanyID).First(&lead).Error; err != nil || lead.Email == "" {
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			result, err := s.verifyLead(gctx, db, &lead)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.WithError(err).WithField("lead_id", id).Warn("verification failed")
				return nil
			}
			switch result.Status {
			case models.EmailValid:
				valid++
			case models.EmailRisky:
				risky++
			default:
				invalid++
			}
			return nil
		})
	}
	_ = g.Wait()

	completed := s.now()
	status := models.ScrapingCompleted
	if failed == len(job.LeadIDs) && failed > 0 {
		status = models.ScrapingFailed
	}
	if err := db.Model(&job).Updates(map[string]interface{}{
		"status":        status,
		"completed_at":  completed,
		"valid_count":   valid,
		"risky_count":   risky,
		"invalid_count": invalid,
		"error_count":   failed,
	}).Error; err != nil {
		utils.LogError("verification_job_update_failed", err, map[string]interface{}{"verification_id": jobID})
		return
	}
	utils.LogEvent("verification_job_completed", map[string]interface{}{
		"company_id":      job.CompanyID,
		"verification_id": jobID,
		"valid":           valid,
		"risky":           risky,
		"invalid":         invalid,
		"errors":          failed,
		"duration_ms":     completed.Sub(started).Milliseconds(),
	})
}

func (s *LeadService) GetVerification(ctx context.Context, companyID, id uint) (*models.EmailVerification, error) {
	var job models.EmailVerification
	if err := findOwned(s.db.WithContext(ctx), &job, companyID, id, "verification"); err != nil {
		return nil, err
	}
	return &job, nil
}
