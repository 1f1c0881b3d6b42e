package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"leadforge/models"
	"leadforge/utils"
)

type AnalyticsService struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    Clock
}

func NewAnalyticsService(db *gorm.DB, logger *logrus.Logger) *AnalyticsService {
	return &AnalyticsService{db: db, logger: logger, now: utcNow}
}

type LeadCounts struct {
	Total int64 `json:"total"`
	Today int64 `json:"today"`
	Week  int64 `json:"week"`
	Month int64 `json:"month"`
}

type EmailRates struct {
	Sent       int64   `json:"sent"`
	Opened     int64   `json:"opened"`
	Clicked    int64   `json:"clicked"`
	Replied    int64   `json:"replied"`
	Bounced    int64   `json:"bounced"`
	OpenRate   float64 `json:"open_rate"`
	ClickRate  float64 `json:"click_rate"`
	ReplyRate  float64 `json:"reply_rate"`
	BounceRate float64 `json:"bounce_rate"`
}

func (r *EmailRates) computeRates() {
	r.OpenRate = utils.Rate(r.Opened, r.Sent)
	r.ClickRate = utils.Rate(r.Clicked, r.Sent)
	r.ReplyRate = utils.Rate(r.Replied, r.Sent)
	r.BounceRate = utils.Rate(r.Bounced, r.Sent)
}

type CampaignSummary struct {
	ID        uint                  `json:"id"`
	Name      string                `json:"name"`
	Status    models.CampaignStatus `json:"status"`
	Sent      int                   `json:"sent"`
	OpenRate  float64               `json:"open_rate"`
	ClickRate float64               `json:"click_rate"`
	ReplyRate float64               `json:"reply_rate"`
}

type Dashboard struct {
	Leads           LeadCounts                      `json:"leads"`
	LeadsBySource   map[models.LeadSource]int64     `json:"leads_by_source"`
	Campaigns       map[models.CampaignStatus]int64 `json:"campaigns"`
	Emails          EmailRates                      `json:"emails"`
	TimeFrame       string                          `json:"time_frame"`
	RecentLeads     []models.Lead                   `json:"recent_leads"`
	RecentCampaigns []CampaignSummary               `json:"recent_campaigns"`
}

// timeFrameStart maps a dashboard time frame to the start of its window.
func timeFrameStart(now time.Time, frame string) (time.Time, string) {
	switch frame {
	case "hour":
		return now.Add(-time.Hour), frame
	case "day":
		return now.Add(-24 * time.Hour), frame
	case "month":
		return now.Add(-30 * 24 * time.Hour), frame
	default:
		return now.Add(-7 * 24 * time.Hour), "week"
	}
}

func (s *AnalyticsService) Dashboard(ctx context.Context, companyID uint, timeFrame string) (*Dashboard, error) {
	db := s.db.WithContext(ctx)
	now := s.now()
	since, frame := timeFrameStart(now, timeFrame)

	d := &Dashboard{TimeFrame: frame}
	leads := func() *gorm.DB { return db.Model(&models.Lead{}).Where("company_id = ?", companyID) }

	if err := leads().Count(&d.Leads.Total).Error; err != nil {
		return nil, err
	}
	if err := leads().Where("created_at >= ?", startOfDay(now)).Count(&d.Leads.Today).Error; err != nil {
		return nil, err
	}
	if err := leads().Where("created_at >= ?", now.Add(-7*24*time.Hour)).Count(&d.Leads.Week).Error; err != nil {
		return nil, err
	}
	if err := leads().Where("created_at >= ?", now.Add(-30*24*time.Hour)).Count(&d.Leads.Month).Error; err != nil {
		return nil, err
	}

	var err error
	if d.LeadsBySource, err = groupCount[models.LeadSource](leads(), "source"); err != nil {
		return nil, err
	}
	if d.Campaigns, err = groupCount[models.CampaignStatus](db.Model(&models.Campaign{}).Where("company_id = ?", companyID), "status"); err != nil {
		return nil, err
	}

	rates, err := emailRates(db.Model(&models.CampaignActivity{}).Where("company_id = ? AND sent_at >= ?", companyID, since))
	if err != nil {
		return nil, err
	}
	d.Emails = *rates

	if err := leads().Order("created_at DESC, id DESC").Limit(5).Find(&d.RecentLeads).Error; err != nil {
		return nil, err
	}

	var campaigns []models.Campaign
	if err := db.Where("company_id = ?", companyID).Order("created_at DESC, id DESC").Limit(5).Find(&campaigns).Error; err != nil {
		return nil, err
	}
	d.RecentCampaigns = make([]CampaignSummary, 0, len(campaigns))
	for _, c := range campaigns {
		sent := int64(c.EmailsSent)
		d.RecentCampaigns = append(d.RecentCampaigns, CampaignSummary{
			ID:        c.ID,
			Name:      c.Name,
			Status:    c.Status,
			Sent:      c.EmailsSent,
			OpenRate:  utils.Rate(int64(c.EmailsOpened), sent),
			ClickRate: utils.Rate(int64(c.EmailsClicked), sent),
			ReplyRate: utils.Rate(int64(c.EmailsReplied), sent),
		})
	}
	return d, nil
}

// groupCount runs SELECT col, COUNT(*) ... GROUP BY col over q.
func groupCount[K ~string](q *gorm.DB, col string) (map[K]int64, error) {
	var rows []struct {
		Grp   string
		Count int64
	}
	if err := q.Select(col + " AS grp, COUNT(*) AS count").Group(col).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[K]int64, len(rows))
	for _, r := range rows {
		out[K(r.Grp)] = r.Count
	}
	return out, nil
}

// emailRates counts delivered dispatch records in q and their engagement.
func emailRates(q *gorm.DB) (*EmailRates, error) {
	var row struct {
		Sent    int64
		Opened  int64
		Clicked int64
		Replied int64
		Bounced int64
	}
	err := q.Where("status = ?", models.DispatchSent).Select(
		"COUNT(*) AS sent, " +
			"COUNT(opened_at) AS opened, " +
			"COUNT(clicked_at) AS clicked, " +
			"COUNT(replied_at) AS replied, " +
			"COUNT(bounced_at) AS bounced",
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	r := &EmailRates{Sent: row.Sent, Opened: row.Opened, Clicked: row.Clicked, Replied: row.Replied, Bounced: row.Bounced}
	r.computeRates()
	return r, nil
}

type LeadAnalytics struct {
	Total         int64                        `json:"total"`
	BySource      map[models.LeadSource]int64  `json:"by_source"`
	ByEmailStatus map[models.EmailStatus]int64 `json:"by_email_status"`
	ByCompanySize map[string]int64             `json:"by_company_size"`
	Enriched      int64                        `json:"enriched"`
	EnrichedRate  float64                      `json:"enriched_rate"`
}

func (s *AnalyticsService) LeadAnalytics(ctx context.Context, companyID uint) (*LeadAnalytics, error) {
	db := s.db.WithContext(ctx)
	leads := func() *gorm.DB { return db.Model(&models.Lead{}).Where("company_id = ?", companyID) }

	a := &LeadAnalytics{}
	if err := leads().Count(&a.Total).Error; err != nil {
		return nil, err
	}
	var err error
	if a.BySource, err = groupCount[models.LeadSource](leads(), "source"); err != nil {
		return nil, err
	}
	if a.ByEmailStatus, err = groupCount[models.EmailStatus](leads(), "email_status"); err != nil {
		return nil, err
	}
	if a.ByCompanySize, err = groupCount[string](leads().Where("company_size <> ''"), "company_size"); err != nil {
		return nil, err
	}
	if err := leads().Where("enriched_at IS NOT NULL").Count(&a.Enriched).Error; err != nil {
		return nil, err
	}
	a.EnrichedRate = utils.Rate(a.Enriched, a.Total)
	return a, nil
}

type StepAnalytics struct {
	StepOrder int     `json:"step_order"`
	Name      string  `json:"name"`
	Subject   string  `json:"subject"`
	Sent      int     `json:"sent"`
	Opened    int     `json:"opened"`
	Clicked   int     `json:"clicked"`
	Replied   int     `json:"replied"`
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
	ReplyRate float64 `json:"reply_rate"`
}

type VariantAnalytics struct {
	Variant string `json:"variant"`
	EmailRates
}

type CampaignAnalytics struct {
	CampaignID    uint                        `json:"campaign_id"`
	Status        models.CampaignStatus       `json:"status"`
	TotalLeads    int                         `json:"total_leads"`
	Emails        EmailRates                  `json:"emails"`
	Unsubscribes  int                         `json:"unsubscribes"`
	Steps         []StepAnalytics             `json:"steps"`
	LeadStatuses  map[models.LeadStatus]int64 `json:"lead_statuses"`
	Variants      []VariantAnalytics          `json:"variants"`
	AvgEngagement float64                     `json:"avg_engagement"`
}

// CampaignAnalytics reports campaign counters, per-step stats and rates,
// the tracker status breakdown and A/B variant performance.
func (s *AnalyticsService) CampaignAnalytics(ctx context.Context, companyID, campaignID uint) (*CampaignAnalytics, error) {
	db := s.db.WithContext(ctx)

	var campaign models.Campaign
	if err := findOwned(db, &campaign, companyID, campaignID, "campaign"); err != nil {
		return nil, err
	}

	a := &CampaignAnalytics{
		CampaignID:   campaign.ID,
		Status:       campaign.Status,
		TotalLeads:   campaign.TotalLeads,
		Unsubscribes: campaign.Unsubscribes,
		Emails: EmailRates{
			Sent:    int64(campaign.EmailsSent),
			Opened:  int64(campaign.EmailsOpened),
			Clicked: int64(campaign.EmailsClicked),
			Replied: int64(campaign.EmailsReplied),
			Bounced: int64(campaign.EmailsBounced),
		},
	}
	a.Emails.computeRates()

	steps, err := orderedSteps(db, campaign.ID)
	if err != nil {
		return nil, err
	}
	a.Steps = make([]StepAnalytics, 0, len(steps))
	for _, st := range steps {
		sent := int64(st.EmailsSent)
		a.Steps = append(a.Steps, StepAnalytics{
			StepOrder: st.StepOrder,
			Name:      st.Name,
			Subject:   st.Subject,
			Sent:      st.EmailsSent,
			Opened:    st.EmailsOpened,
			Clicked:   st.EmailsClicked,
			Replied:   st.EmailsReplied,
			OpenRate:  utils.Rate(int64(st.EmailsOpened), sent),
			ClickRate: utils.Rate(int64(st.EmailsClicked), sent),
			ReplyRate: utils.Rate(int64(st.EmailsReplied), sent),
		})
	}

	if a.LeadStatuses, err = leadStatusCounts(db, campaign.ID); err != nil {
		return nil, err
	}

	for _, v := range []string{models.VariantA, models.VariantB} {
		rates, err := emailRates(db.Model(&models.CampaignActivity{}).Where("campaign_id = ? AND variant = ?", campaign.ID, v))
		if err != nil {
			return nil, err
		}
		if rates.Sent > 0 {
			a.Variants = append(a.Variants, VariantAnalytics{Variant: v, EmailRates: *rates})
		}
	}

	var avg struct{ Avg float64 }
	if err := db.Model(&models.CampaignLead{}).
		Select("COALESCE(AVG(engagement_score), 0) AS avg").
		Where("campaign_id = ?", campaign.ID).
		Scan(&avg).Error; err != nil {
		return nil, err
	}
	a.AvgEngagement = utils.Round2(avg.Avg)
	return a, nil
}

// StatusTotals aggregates campaign counters for one campaign status.
type StatusTotals struct {
	Count   int64 `json:"count"`
	Sent    int64 `json:"sent"`
	Opened  int64 `json:"opened"`
	Clicked int64 `json:"clicked"`
}

type CampaignsOverview struct {
	TotalCampaigns int64                                  `json:"total_campaigns"`
	ByStatus       map[models.CampaignStatus]StatusTotals `json:"by_status"`
	TotalSent      int64                                  `json:"total_sent"`
	TotalOpened    int64                                  `json:"total_opened"`
	TotalClicked   int64                                  `json:"total_clicked"`
	TotalReplied   int64                                  `json:"total_replied"`
	AvgOpenRate    float64                                `json:"avg_open_rate"`
	AvgClickRate   float64                                `json:"avg_click_rate"`
	AvgReplyRate   float64                                `json:"avg_reply_rate"`
}

// CampaignsOverview sums the campaign counters of the whole company, per
// status and overall. The average rates are over all sent email.
func (s *AnalyticsService) CampaignsOverview(ctx context.Context, companyID uint) (*CampaignsOverview, error) {
	var rows []struct {
		Status  models.CampaignStatus
		Count   int64
		Sent    int64
		Opened  int64
		Clicked int64
		Replied int64
	}
	err := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("company_id = ?", companyID).
		Select("status, COUNT(*) AS count, " +
			"COALESCE(SUM(emails_sent), 0) AS sent, " +
			"COALESCE(SUM(emails_opened), 0) AS opened, " +
			"COALESCE(SUM(emails_clicked), 0) AS clicked, " +
			"COALESCE(SUM(emails_replied), 0) AS replied").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	o := &CampaignsOverview{ByStatus: make(map[models.CampaignStatus]StatusTotals, len(rows))}
	for _, r := range rows {
		o.ByStatus[r.Status] = StatusTotals{Count: r.Count, Sent: r.Sent, Opened: r.Opened, Clicked: r.Clicked}
		o.TotalCampaigns += r.Count
		o.TotalSent += r.Sent
		o.TotalOpened += r.Opened
		o.TotalClicked += r.Clicked
		o.TotalReplied += r.Replied
	}
	o.AvgOpenRate = utils.Rate(o.TotalOpened, o.TotalSent)
	o.AvgClickRate = utils.Rate(o.TotalClicked, o.TotalSent)
	o.AvgReplyRate = utils.Rate(o.TotalReplied, o.TotalSent)
	return o, nil
}

type MemberActivity struct {
	UserID           uint   `json:"user_id"`
	UserName         string `json:"user_name"`
	Email            string `json:"email"`
	LeadsAdded       int64  `json:"leads_added"`
	CampaignsCreated int64  `json:"campaigns_created"`
}

type TeamActivity struct {
	Users      []MemberActivity `json:"users"`
	TotalUsers int              `json:"total_users"`
}

// TeamActivity counts the leads each company user added and the campaigns
// they created. Users with no activity are listed with zeros.
func (s *AnalyticsService) TeamActivity(ctx context.Context, companyID uint) (*TeamActivity, error) {
	db := s.db.WithContext(ctx)

	var users []models.User
	if err := db.Where("company_id = ?", companyID).Order("id").Find(&users).Error; err != nil {
		return nil, err
	}

	perUser := func(model any) (map[uint]int64, error) {
		var rows []struct {
			CreatedBy uint
			Count     int64
		}
		err := db.Model(model).
			Where("company_id = ? AND created_by IS NOT NULL", companyID).
			Select("created_by, COUNT(*) AS count").
			Group("created_by").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		out := make(map[uint]int64, len(rows))
		for _, r := range rows {
			out[r.CreatedBy] = r.Count
		}
		return out, nil
	}
	leads, err := perUser(&models.Lead{})
	if err != nil {
		return nil, err
	}
	campaigns, err := perUser(&models.Campaign{})
	if err != nil {
		return nil, err
	}

	t := &TeamActivity{Users: make([]MemberActivity, 0, len(users)), TotalUsers: len(users)}
	for _, u := range users {
		t.Users = append(t.Users, MemberActivity{
			UserID:           u.ID,
			UserName:         u.FullName,
			Email:            u.Email,
			LeadsAdded:       leads[u.ID],
			CampaignsCreated: campaigns[u.ID],
		})
	}
	return t, nil
}

type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// TimeSeries is chart-shaped: one label per bucket and one dataset per
// metric, aligned by index.
type TimeSeries struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

const maxMetricDays = 366

// MetricsOverTime returns daily sent/opened/clicked/replied counts for the
// last days days, optionally for a single campaign. Empty days are zero.
func (s *AnalyticsService) MetricsOverTime(ctx context.Context, companyID uint, campaignID *uint, days int) (*TimeSeries, error) {
	if days < 1 {
		days = 30
	}
	if days > maxMetricDays {
		return nil, models.NewValidation("range too large", map[string]string{"days": "must be at most 366"})
	}

	now := s.now()
	first := startOfDay(now).AddDate(0, 0, -(days - 1))

	q := s.db.WithContext(ctx).Model(&models.CampaignActivity{}).
		Where("company_id = ? AND status = ? AND sent_at >= ?", companyID, models.DispatchSent, first)
	if campaignID != nil {
		var c models.Campaign
		if err := findOwned(s.db.WithContext(ctx), &c, companyID, *campaignID, "campaign"); err != nil {
			return nil, err
		}
		q = q.Where("campaign_id = ?", c.ID)
	}

	var rows []struct {
		SentAt    time.Time
		OpenedAt  *time.Time
		ClickedAt *time.Time
		RepliedAt *time.Time
	}
	if err := q.Select("sent_at, opened_at, clicked_at, replied_at").Scan(&rows).Error; err != nil {
		return nil, err
	}

	ts := &TimeSeries{
		Labels: make([]string, days),
		Datasets: []Dataset{
			{Label: "sent", Data: make([]float64, days)},
			{Label: "opened", Data: make([]float64, days)},
			{Label: "clicked", Data: make([]float64, days)},
			{Label: "replied", Data: make([]float64, days)},
		},
	}
	for i := 0; i < days; i++ {
		ts.Labels[i] = first.AddDate(0, 0, i).Format("2006-01-02")
	}

	bucket := func(t time.Time) int {
		i := int(startOfDay(t).Sub(first).Hours() / 24)
		if i < 0 || i >= days {
			return -1
		}
		return i
	}
	add := func(dataset int, t *time.Time) {
		if t == nil {
			return
		}
		if i := bucket(*t); i >= 0 {
			ts.Datasets[dataset].Data[i]++
		}
	}
	for _, r := range rows {
		sent := r.SentAt
		add(0, &sent)
		add(1, r.OpenedAt)
		add(2, r.ClickedAt)
		add(3, r.RepliedAt)
	}
	return ts, nil
}

// RollupDailyStats recomputes the DailyStats row of every company for the
// UTC day containing day.
func (s *AnalyticsService) RollupDailyStats(ctx context.Context, day time.Time) (int, error) {
	db := s.db.WithContext(ctx)
	from := startOfDay(day)
	to := from.AddDate(0, 0, 1)

	var companyIDs []uint
	if err := db.Model(&models.Company{}).Pluck("id", &companyIDs).Error; err != nil {
		return 0, err
	}

	for _, companyID := range companyIDs {
		stats, err := s.dayStats(db, companyID, from, to)
		if err != nil {
			return 0, err
		}
		err = db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "company_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"leads_added", "leads_enriched", "emails_sent", "emails_opened", "emails_clicked",
				"emails_replied", "emails_bounced", "unsubscribes", "scraping_jobs_run",
				"scraping_leads_found", "updated_at",
			}),
		}).Create(stats).Error
		if err != nil {
			return 0, err
		}
	}

	utils.LogEvent("daily_stats_rolled_up", map[string]interface{}{
		"date":      from.Format("2006-01-02"),
		"companies": len(companyIDs),
	})
	return len(companyIDs), nil
}

func (s *AnalyticsService) dayStats(db *gorm.DB, companyID uint, from, to time.Time) (*models.DailyStats, error) {
	stats := &models.DailyStats{CompanyID: companyID, Date: from}

	count := func(model interface{}, col string, extra ...interface{}) (int, error) {
		q := db.Model(model).Where("company_id = ? AND "+col+" >= ? AND "+col+" < ?", companyID, from, to)
		if len(extra) > 0 {
			q = q.Where(extra[0], extra[1:]...)
		}
		var n int64
		err := q.Count(&n).Error
		return int(n), err
	}

	targets := []struct {
		dst   *int
		model interface{}
		col   string
		extra []interface{}
	}{
		{&stats.LeadsAdded, &models.Lead{}, "created_at", nil},
		{&stats.LeadsEnriched, &models.Lead{}, "enriched_at", nil},
		{&stats.EmailsSent, &models.CampaignActivity{}, "sent_at", []interface{}{"status = ?", models.DispatchSent}},
		{&stats.EmailsOpened, &models.CampaignActivity{}, "opened_at", nil},
		{&stats.EmailsClicked, &models.CampaignActivity{}, "clicked_at", nil},
		{&stats.EmailsReplied, &models.CampaignActivity{}, "replied_at", nil},
		{&stats.EmailsBounced, &models.CampaignActivity{}, "bounced_at", nil},
		{&stats.Unsubscribes, &models.Unsubscribe{}, "created_at", nil},
		{&stats.ScrapingJobsRun, &models.ScrapingJob{}, "completed_at", []interface{}{"status = ?", models.ScrapingCompleted}},
	}
	for _, t := range targets {
		n, err := count(t.model, t.col, t.extra...)
		if err != nil {
			return nil, err
		}
		*t.dst = n
	}

	var found struct{ Total int }
	if err := db.Model(&models.ScrapingJob{}).
		Select("COALESCE(SUM(leads_found), 0) AS total").
		Where("company_id = ? AND status = ? AND completed_at >= ? AND completed_at < ?", companyID, models.ScrapingCompleted, from, to).
		Scan(&found).Error; err != nil {
		return nil, err
	}
	stats.ScrapingLeadsFound = found.Total
	return stats, nil
}

// DailyStats returns stored rollups between from and to inclusive.
func (s *AnalyticsService) DailyStats(ctx context.Context, companyID uint, from, to time.Time) ([]models.DailyStats, error) {
	var rows []models.DailyStats
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND date >= ? AND date <= ?", companyID, startOfDay(from), startOfDay(to)).
		Order("date ASC").
		Find(&rows).Error
	return rows, err
}
