package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"leadforge/models"
	"leadforge/utils"
)

const (
	defaultScrapeResults = 50
	scrapeTimeout        = 10 * time.Minute
)

type ScrapingService struct {
	db      *gorm.DB
	scraper utils.Scraper
	leads   *LeadService
	logger  *logrus.Logger
	now     Clock
	async   func(func())
}

func NewScrapingService(db *gorm.DB, scraper utils.Scraper, leads *LeadService, logger *logrus.Logger) *ScrapingService {
	return &ScrapingService{
		db:      db,
		scraper: scraper,
		leads:   leads,
		logger:  logger,
		now:     utcNow,
		async:   func(f func()) { go f() },
	}
}

type CreateScrapingJobInput struct {
	Name        string         `json:"name" validate:"required,max=255"`
	Source      string         `json:"source" validate:"required,oneof=linkedin instagram google_maps custom_urls"`
	SearchQuery string         `json:"search_query" validate:"max=500"`
	URLs        []string       `json:"urls" validate:"omitempty,max=100,dive,url"`
	MaxResults  int            `json:"max_results" validate:"gte=0,lte=1000"`
	Config      map[string]any `json:"config"`
}

// Create stores a pending job. Plans without scraping get QuotaExceeded.
func (s *ScrapingService) Create(ctx context.Context, companyID, userID uint, in CreateScrapingJobInput) (*models.ScrapingJob, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	source := models.LeadSource(in.Source)
	switch {
	case source == models.SourceCustomURLs && len(in.URLs) == 0:
		return nil, models.NewValidation("custom_urls jobs need at least one url", map[string]string{"urls": "required"})
	case source != models.SourceCustomURLs && in.SearchQuery == "":
		return nil, models.NewValidation("search_query is required for this source", map[string]string{"search_query": "required"})
	}

	db := s.db.WithContext(ctx)
	var company models.Company
	if err := db.Select("id", "plan", "can_scrape").Where("id = ?", companyID).First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("company", companyID)
		}
		return nil, err
	}
	if !company.CanScrape {
		appErr := models.NewQuotaExceeded("scraping", 0, 1)
		appErr.Message = "scraping is not included in the " + string(company.Plan) + " plan"
		return nil, appErr
	}

	maxResults := in.MaxResults
	if maxResults == 0 {
		maxResults = defaultScrapeResults
	}
	job := models.ScrapingJob{
		CompanyID:   companyID,
		Name:        in.Name,
		Source:      source,
		Status:      models.ScrapingPending,
		SearchQuery: in.SearchQuery,
		URLs:        in.URLs,
		Config:      in.Config,
		MaxResults:  maxResults,
		CreatedBy:   userID,
	}
	if err := db.Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *ScrapingService) List(ctx context.Context, companyID uint, status string, p utils.Pagination) ([]models.ScrapingJob, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.ScrapingJob{}).Where("company_id = ?", companyID)
	if status != "" {
		st, err := models.ParseScrapingStatus(status)
		if err != nil {
			return nil, 0, models.NewValidation(err.Error(), map[string]string{"status": "unknown status"})
		}
		q = q.Where("status = ?", st)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var jobs []models.ScrapingJob
	err := q.Order("created_at DESC, id DESC").Offset(p.Offset()).Limit(p.Limit).Find(&jobs).Error
	return jobs, total, err
}

func (s *ScrapingService) Get(ctx context.Context, companyID, id uint) (*models.ScrapingJob, error) {
	var job models.ScrapingJob
	if err := findOwned(s.db.WithContext(ctx), &job, companyID, id, "scraping job"); err != nil {
		return nil, err
	}
	return &job, nil
}

// Start moves a pending or failed job to running and scrapes in the
// background.
func (s *ScrapingService) Start(ctx context.Context, companyID, id uint) (*models.ScrapingJob, error) {
	job, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !job.CanStart() {
		return nil, models.NewInvalidTransition("scraping job", string(job.Status), "start")
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.ScrapingJob{}).
		Where("id = ? AND status IN ?", job.ID, []models.ScrapingStatus{models.ScrapingPending, models.ScrapingFailed}).
		Updates(map[string]interface{}{
			"status":        models.ScrapingRunning,
			"started_at":    now,
			"completed_at":  nil,
			"error_message": "",
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, models.NewInvalidTransition("scraping job", string(job.Status), "start")
	}
	job.Status = models.ScrapingRunning
	job.StartedAt = &now
	job.CompletedAt = nil
	job.ErrorMessage = ""

	jobID := job.ID
	s.async(func() {
		runCtx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
		defer cancel()
		if err := s.Run(runCtx, jobID); err != nil {
			utils.LogError("scraping_job_failed", err, map[string]interface{}{"company_id": companyID, "scraping_job_id": jobID})
		}
	})
	return job, nil
}

// Cancel stops a pending or running job. Leads already stored stay.
func (s *ScrapingService) Cancel(ctx context.Context, companyID, id uint) (*models.ScrapingJob, error) {
	job, err := s.Get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !job.CanCancel() {
		return nil, models.NewInvalidTransition("scraping job", string(job.Status), "cancel")
	}
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.ScrapingJob{}).
		Where("id = ? AND status IN ?", job.ID, []models.ScrapingStatus{models.ScrapingPending, models.ScrapingRunning}).
		Updates(map[string]interface{}{"status": models.ScrapingCanceled, "completed_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, models.NewInvalidTransition("scraping job", string(job.Status), "cancel")
	}
	job.Status = models.ScrapingCanceled
	job.CompletedAt = &now
	return job, nil
}

// Delete removes a job that is not running. Its leads stay and lose the
// link back to the job.
func (s *ScrapingService) Delete(ctx context.Context, companyID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.ScrapingJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND company_id = ?", id, companyID).First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFound("scraping job", id)
			}
			return err
		}
		if job.Status == models.ScrapingRunning {
			return models.NewInvalidTransition("scraping job", string(job.Status), "delete")
		}
		if err := tx.Model(&models.Lead{}).
			Where("company_id = ? AND scraping_job_id = ?", companyID, job.ID).
			Update("scraping_job_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&job).Error
	})
}

// Run scrapes for a running job and stores what it finds as leads, within
// the company's remaining lead quota.
func (s *ScrapingService) Run(ctx context.Context, jobID uint) error {
	db := s.db.WithContext(ctx)
	var job models.ScrapingJob
	if err := db.First(&job, jobID).Error; err != nil {
		return err
	}
	if job.Status != models.ScrapingRunning {
		return nil
	}

	found, err := s.scraper.Scrape(ctx, utils.ScrapeRequest{
		Source:     job.Source,
		Query:      job.SearchQuery,
		URLs:       job.URLs,
		MaxResults: job.MaxResults,
	})
	if err != nil {
		return s.finish(&job, models.ScrapingFailed, err.Error())
	}

	var created []models.Lead
	truncated := false
	err = db.Transaction(func(tx *gorm.DB) error {
		var current models.ScrapingJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, job.ID).Error; err != nil {
			return err
		}
		if current.Status != models.ScrapingRunning {
			return nil
		}

		candidates := make([]models.Lead, 0, len(found))
		seen := map[string]bool{}
		for _, f := range found {
			lead := scrapedToLead(&f, &job)
			if lead.Email != "" {
				if seen[lead.Email] {
					continue
				}
				seen[lead.Email] = true
			}
			candidates = append(candidates, lead)
		}
		existing, err := existingEmails(tx, job.CompanyID, candidates)
		if err != nil {
			return err
		}
		fresh := candidates[:0]
		for _, l := range candidates {
			if l.Email == "" || !existing[l.Email] {
				fresh = append(fresh, l)
			}
		}

		_, remaining, err := leadQuota(tx, job.CompanyID)
		if err != nil {
			return err
		}
		if remaining >= 0 && len(fresh) > remaining {
			fresh = fresh[:remaining]
			truncated = true
		}
		if len(fresh) > 0 {
			if err := tx.CreateInBatches(&fresh, importBatchSize).Error; err != nil {
				return err
			}
		}
		created = fresh
		return tx.Model(&models.ScrapingJob{}).Where("id = ?", job.ID).Update("leads_found", len(fresh)).Error
	})
	if err != nil {
		return s.finish(&job, models.ScrapingFailed, err.Error())
	}

	enriched := s.autoEnrich(ctx, job.CompanyID, created)
	if enriched > 0 {
		db.Model(&models.ScrapingJob{}).Where("id = ?", job.ID).Update("leads_enriched", enriched)
	}

	message := ""
	if truncated {
		message = "lead quota reached, results truncated"
	}
	utils.LogEvent("scraping_job_completed", map[string]interface{}{
		"company_id":      job.CompanyID,
		"scraping_job_id": job.ID,
		"found":           len(found),
		"stored":          len(created),
		"enriched":        enriched,
		"truncated":       truncated,
	})
	return s.finish(&job, models.ScrapingCompleted, message)
}

// finish records the outcome unless the job was canceled meanwhile.
func (s *ScrapingService) finish(job *models.ScrapingJob, status models.ScrapingStatus, message string) error {
	return s.db.Model(&models.ScrapingJob{}).
		Where("id = ? AND status = ?", job.ID, models.ScrapingRunning).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": message,
			"completed_at":  s.now(),
		}).Error
}

func (s *ScrapingService) autoEnrich(ctx context.Context, companyID uint, leads []models.Lead) int {
	if s.leads == nil || len(leads) == 0 {
		return 0
	}
	var settings models.CompanySettings
	if err := s.db.WithContext(ctx).Where("company_id = ?", companyID).Limit(1).Find(&settings).Error; err != nil || !settings.AutoEnrich {
		return 0
	}
	enriched := 0
	for i := range leads {
		if ctx.Err() != nil {
			break
		}
		if err := s.leads.enrichLead(ctx, s.db.WithContext(ctx), &leads[i]); err != nil {
			if !errors.Is(err, utils.ErrNothingToEnrich) {
				s.logger.WithError(err).WithField("lead_id", leads[i].ID).Warn("auto enrichment failed")
			}
			continue
		}
		enriched++
	}
	return enriched
}

func scrapedToLead(f *utils.ScrapedLead, job *models.ScrapingJob) models.Lead {
	jobID := job.ID
	createdBy := job.CreatedBy
	lead := models.Lead{
		CompanyID:       job.CompanyID,
		ScrapingJobID:   &jobID,
		FirstName:       f.FirstName,
		LastName:        f.LastName,
		Title:           f.Title,
		CompanyName:     f.Company,
		CompanyURL:      f.CompanyURL,
		Email:           utils.NormalizeEmail(f.Email),
		EmailStatus:     models.EmailUnverified,
		Phone:           f.Phone,
		LinkedInURL:     f.LinkedInURL,
		InstagramHandle: f.InstagramHandle,
		City:            f.City,
		Country:         f.Country,
		Source:          job.Source,
		SourceURL:       f.SourceURL,
	}
	if createdBy != 0 {
		lead.CreatedBy = &createdBy
	}
	lead.RefreshFullName()
	return lead
}
