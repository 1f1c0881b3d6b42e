package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"leadforge/models"
	"leadforge/utils"
)

type ScrapingServiceTestSuite struct {
	dbSuite
}

func TestScrapingServiceSuite(t *testing.T) {
	suite.Run(t, new(ScrapingServiceTestSuite))
}

type brokenScraper struct{}

func (brokenScraper) Scrape(context.Context, utils.ScrapeRequest) ([]utils.ScrapedLead, error) {
	return nil, errors.New("upstream returned 503")
}

func (s *ScrapingServiceTestSuite) scraping(scraper utils.Scraper) *ScrapingService {
	leads := NewLeadService(s.db, utils.FixtureVerifier{}, utils.FixtureEnricher{}, s.logger)
	leads.now = s.now
	svc := NewScrapingService(s.db, scraper, leads, s.logger)
	svc.now = s.now
	svc.async = func(f func()) { f() }
	return svc
}

func (s *ScrapingServiceTestSuite) createJob(svc *ScrapingService, max int) *models.ScrapingJob {
	job, err := svc.Create(s.ctx, s.company.ID, s.user.ID, CreateScrapingJobInput{
		Name:        "Founders in Austin",
		Source:      "linkedin",
		SearchQuery: "founder austin",
		MaxResults:  max,
	})
	s.Require().NoError(err)
	s.Equal(models.ScrapingPending, job.Status)
	return job
}

func (s *ScrapingServiceTestSuite) TestCreateValidation() {
	svc := s.scraping(utils.FixtureScraper{})

	_, err := svc.Create(s.ctx, s.company.ID, s.user.ID, CreateScrapingJobInput{Name: "Sites", Source: "custom_urls"})
	s.True(errors.Is(err, models.ErrValidation))

	_, err = svc.Create(s.ctx, s.company.ID, s.user.ID, CreateScrapingJobInput{Name: "Maps", Source: "google_maps"})
	s.True(errors.Is(err, models.ErrValidation))

	_, err = svc.Create(s.ctx, s.company.ID, s.user.ID, CreateScrapingJobInput{Name: "Fax", Source: "fax", SearchQuery: "x"})
	s.True(errors.Is(err, models.ErrValidation))

	job, err := svc.Create(s.ctx, s.company.ID, s.user.ID, CreateScrapingJobInput{
		Name:   "Sites",
		Source: "custom_urls",
		URLs:   []string{"https://northwind.com/team"},
	})
	s.Require().NoError(err)
	s.Equal(defaultScrapeResults, job.MaxResults)
}

func (s *ScrapingServiceTestSuite) TestPlanWithoutScraping() {
	starter := s.seedCompany("Tiny", models.PlanStarter)

	_, err := s.scraping(utils.FixtureScraper{}).Create(s.ctx, starter.ID, 0, CreateScrapingJobInput{
		Name:        "Nope",
		Source:      "linkedin",
		SearchQuery: "cto",
	})
	s.True(errors.Is(err, models.ErrQuotaExceeded))
}

func (s *ScrapingServiceTestSuite) TestRunStoresLeads() {
	svc := s.scraping(utils.FixtureScraper{})
	job := s.createJob(svc, 5)

	started, err := svc.Start(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapingRunning, started.Status)

	done, err := svc.Get(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapingCompleted, done.Status)
	s.Equal(5, done.LeadsFound)
	s.Empty(done.ErrorMessage)
	s.NotNil(done.CompletedAt)

	var leads []models.Lead
	s.Require().NoError(s.db.Where("scraping_job_id = ?", job.ID).Find(&leads).Error)
	s.Len(leads, 5)
	for _, l := range leads {
		s.Equal(models.SourceLinkedIn, l.Source)
		s.NotEmpty(l.LinkedInURL)
		s.Nil(l.EnrichedAt)
	}

	// a completed job cannot be started again
	_, err = svc.Start(s.ctx, s.company.ID, job.ID)
	s.True(errors.Is(err, models.ErrInvalidTransition))
}

func (s *ScrapingServiceTestSuite) TestRunSkipsKnownAddressesAndTruncates() {
	svc := s.scraping(utils.FixtureScraper{})
	first := s.createJob(svc, 5)
	_, err := svc.Start(s.ctx, s.company.ID, first.ID)
	s.Require().NoError(err)

	// same query yields the same contacts
	s.Require().NoError(s.db.Model(&models.Company{}).Where("id = ?", s.company.ID).Update("leads_limit", 8).Error)
	second := s.createJob(svc, 10)
	_, err = svc.Start(s.ctx, s.company.ID, second.ID)
	s.Require().NoError(err)

	done, err := svc.Get(s.ctx, s.company.ID, second.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapingCompleted, done.Status)
	s.Equal(3, done.LeadsFound)
	s.Equal("lead quota reached, results truncated", done.ErrorMessage)

	var total int64
	s.db.Model(&models.Lead{}).Where("company_id = ?", s.company.ID).Count(&total)
	s.EqualValues(8, total)
}

func (s *ScrapingServiceTestSuite) TestAutoEnrich() {
	s.Require().NoError(s.db.Model(&models.CompanySettings{}).Where("company_id = ?", s.company.ID).Update("auto_enrich", true).Error)
	svc := s.scraping(utils.FixtureScraper{})
	job := s.createJob(svc, 3)

	_, err := svc.Start(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)

	done, err := svc.Get(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)
	s.Equal(3, done.LeadsEnriched)

	var enriched int64
	s.db.Model(&models.Lead{}).Where("scraping_job_id = ? AND enriched_at IS NOT NULL", job.ID).Count(&enriched)
	s.EqualValues(3, enriched)
}

func (s *ScrapingServiceTestSuite) TestFailedJobCanRestart() {
	broken := s.scraping(brokenScraper{})
	job := s.createJob(broken, 5)

	_, err := broken.Start(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)
	failed, err := broken.Get(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapingFailed, failed.Status)
	s.Equal("upstream returned 503", failed.ErrorMessage)

	working := s.scraping(utils.FixtureScraper{})
	_, err = working.Start(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)
	done, err := working.Get(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapingCompleted, done.Status)
	s.Equal(5, done.LeadsFound)
}

func (s *ScrapingServiceTestSuite) TestCancel() {
	svc := s.scraping(utils.FixtureScraper{})
	job := s.createJob(svc, 5)

	canceled, err := svc.Cancel(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)
	s.Equal(models.ScrapingCanceled, canceled.Status)

	_, err = svc.Cancel(s.ctx, s.company.ID, job.ID)
	s.True(errors.Is(err, models.ErrInvalidTransition))
	_, err = svc.Start(s.ctx, s.company.ID, job.ID)
	s.True(errors.Is(err, models.ErrInvalidTransition))

	// a canceled job is not picked up by a late run
	s.Require().NoError(svc.Run(s.ctx, job.ID))
	var n int64
	s.db.Model(&models.Lead{}).Where("scraping_job_id = ?", job.ID).Count(&n)
	s.Zero(n)

	jobs, total, err := svc.List(s.ctx, s.company.ID, "canceled", utils.NewPagination(1, 10))
	s.Require().NoError(err)
	s.EqualValues(1, total)
	s.Equal(job.ID, jobs[0].ID)
}

func (s *ScrapingServiceTestSuite) TestDeleteKeepsLeads() {
	svc := s.scraping(utils.FixtureScraper{})
	job := s.createJob(svc, 3)
	_, err := svc.Start(s.ctx, s.company.ID, job.ID)
	s.Require().NoError(err)

	globex := s.seedCompany("Globex", models.PlanGrowth)
	s.True(errors.Is(svc.Delete(s.ctx, globex.ID, job.ID), models.ErrNotFound))

	s.Require().NoError(svc.Delete(s.ctx, s.company.ID, job.ID))
	_, err = svc.Get(s.ctx, s.company.ID, job.ID)
	s.True(errors.Is(err, models.ErrNotFound))
	s.True(errors.Is(svc.Delete(s.ctx, s.company.ID, job.ID), models.ErrNotFound))

	var linked int64
	s.Require().NoError(s.db.Model(&models.Lead{}).Where("scraping_job_id = ?", job.ID).Count(&linked).Error)
	s.Zero(linked)
	var kept int64
	s.Require().NoError(s.db.Model(&models.Lead{}).Where("company_id = ? AND source = ?", s.company.ID, models.SourceLinkedIn).Count(&kept).Error)
	s.EqualValues(3, kept)
}

func (s *ScrapingServiceTestSuite) TestDeleteRunningJob() {
	svc := s.scraping(utils.FixtureScraper{})
	job := s.createJob(svc, 3)
	s.Require().NoError(s.db.Model(&models.ScrapingJob{}).Where("id = ?", job.ID).Update("status", models.ScrapingRunning).Error)

	s.True(errors.Is(svc.Delete(s.ctx, s.company.ID, job.ID), models.ErrInvalidTransition))
	_, err := svc.Get(s.ctx, s.company.ID, job.ID)
	s.NoError(err)
}
