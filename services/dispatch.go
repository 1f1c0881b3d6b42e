package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"leadforge/models"
	"leadforge/utils"
)

type DispatchConfig struct {
	Concurrency  int
	BatchSize    int
	MaxAttempts  int
	LeaseTimeout time.Duration
	SendTimeout  time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.BatchSize < 1 {
		c.BatchSize = 200
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 10 * time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = time.Minute
	}
	return c
}

// DispatchEngine sends the next due step to each lead of every RUNNING
// campaign, within the campaign throttles and the company's monthly quota.
//
// A send is split in three parts: a reservation transaction that locks the
// campaign row, checks throttles against durable dispatch records and
// claims the tracker; the transport call, with no transaction open; and a
// transaction recording the outcome.
type DispatchEngine struct {
	db        *gorm.DB
	transport utils.MailTransport
	tracker   *utils.Tracker
	campaigns *CampaignService
	logger    *logrus.Logger
	cfg       DispatchConfig
	now       Clock
}

func NewDispatchEngine(db *gorm.DB, transport utils.MailTransport, tracker *utils.Tracker, campaigns *CampaignService, cfg DispatchConfig, logger *logrus.Logger) *DispatchEngine {
	return &DispatchEngine{
		db:        db,
		transport: transport,
		tracker:   tracker,
		campaigns: campaigns,
		logger:    logger,
		cfg:       cfg.withDefaults(),
		now:       utcNow,
	}
}

// CampaignReport summarises one campaign's share of a cycle.
type CampaignReport struct {
	CampaignID uint   `json:"campaign_id"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Due        int    `json:"due"`
	StoppedBy  string `json:"stopped_by,omitempty"`
	Completed  bool   `json:"completed"`
}

type CycleReport struct {
	Campaigns       []CampaignReport `json:"campaigns"`
	RecoveredLeases int              `json:"recovered_leases"`
}

func (r *CycleReport) Sent() int {
	n := 0
	for _, c := range r.Campaigns {
		n += c.Sent
	}
	return n
}

// reasons a campaign's cycle ends early
const (
	stopHourlyThrottle = "hourly_throttle"
	stopDailyThrottle  = "daily_throttle"
	stopMonthlyQuota   = "monthly_quota"
	stopNotRunning     = "not_running"
	stopCanceled       = "context_canceled"
)

var (
	errThrottled  = errors.New("throttle reached")
	errNotRunning = errors.New("campaign not running")
	errSkipLead   = errors.New("lead not dispatchable")
)

// RunCycle processes every RUNNING campaign once, several in parallel.
func (e *DispatchEngine) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{}

	recovered, err := e.RecoverStaleLeases(ctx)
	if err != nil {
		return nil, err
	}
	report.RecoveredLeases = recovered

	var running []models.Campaign
	if err := e.db.WithContext(ctx).
		Select("id", "company_id").
		Where("status = ?", models.CampaignRunning).
		Order("id ASC").
		Find(&running).Error; err != nil {
		return nil, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, c := range running {
		c := c
		g.Go(func() error {
			res, err := e.ProcessCampaign(gctx, c.CompanyID, c.ID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				utils.LogError("dispatch_campaign_failed", err, map[string]interface{}{
					"company_id":  c.CompanyID,
					"campaign_id": c.ID,
				})
				return nil
			}
			mu.Lock()
			report.Campaigns = append(report.Campaigns, *res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Slice(report.Campaigns, func(i, j int) bool {
		return report.Campaigns[i].CampaignID < report.Campaigns[j].CampaignID
	})
	return report, nil
}

type dueLead struct {
	tracker models.CampaignLead
	dueAt   time.Time
}

// ProcessCampaign sends due steps for one campaign until nothing is due,
// a throttle or the quota is hit, or the campaign leaves RUNNING.
func (e *DispatchEngine) ProcessCampaign(ctx context.Context, companyID, campaignID uint) (*CampaignReport, error) {
	report := &CampaignReport{CampaignID: campaignID}
	db := e.db.WithContext(ctx)

	var campaign models.Campaign
	if err := findOwned(db, &campaign, companyID, campaignID, "campaign"); err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignRunning {
		report.StoppedBy = stopNotRunning
		return report, nil
	}

	steps, err := orderedSteps(db, campaignID)
	if err != nil {
		return nil, err
	}
	var settings models.CompanySettings
	if err := db.Where("company_id = ?", companyID).Limit(1).Find(&settings).Error; err != nil {
		return nil, err
	}

	due, err := e.dueLeads(db, &campaign, steps)
	if err != nil {
		return nil, err
	}
	report.Due = len(due)

	for _, d := range due {
		if ctx.Err() != nil {
			report.StoppedBy = stopCanceled
			break
		}

		res, err := e.reserve(ctx, &campaign, steps, d.tracker.ID, d.tracker.CurrentStep)
		switch {
		case errors.Is(err, errSkipLead):
			report.Skipped++
			continue
		case errors.Is(err, errNotRunning):
			report.StoppedBy = stopNotRunning
		case errors.Is(err, errThrottled):
			report.StoppedBy = err.Error()
		case errors.Is(err, models.ErrQuotaExceeded):
			report.StoppedBy = stopMonthlyQuota
			utils.LogEvent("dispatch_quota_exceeded", map[string]interface{}{"company_id": companyID, "campaign_id": campaignID})
		case err != nil:
			return report, err
		}
		if report.StoppedBy != "" {
			break
		}

		if sendErr := e.send(ctx, &campaign, &settings, res); sendErr != nil {
			report.Failed++
			continue
		}
		report.Sent++
	}

	if report.StoppedBy == "" || report.StoppedBy == stopNotRunning {
		completed, err := e.campaigns.CompleteIfFinished(context.WithoutCancel(ctx), companyID, campaignID)
		if err != nil {
			return report, err
		}
		report.Completed = completed
	}
	return report, nil
}

// dueLeads loads the trackers with a step due now, earliest first.
func (e *DispatchEngine) dueLeads(db *gorm.DB, campaign *models.Campaign, steps []models.EmailSequence) ([]dueLead, error) {
	if len(steps) == 0 {
		return nil, nil
	}

	q := db.Where("campaign_id = ?", campaign.ID).
		Where("status IN ?", activeLeadStatuses).
		Where("current_step < ?", len(steps)).
		Where("dispatching_at IS NULL")
	if campaign.StopOnReply {
		q = q.Where("replied_at IS NULL")
	}

	var trackers []models.CampaignLead
	if err := q.Order("id ASC").Find(&trackers).Error; err != nil {
		return nil, err
	}

	now := e.now()
	var due []dueLead
	for _, t := range trackers {
		dueAt, ok := nextDueAt(&t, steps)
		if ok && !dueAt.After(now) {
			due = append(due, dueLead{tracker: t, dueAt: dueAt})
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].dueAt.Before(due[j].dueAt) })
	if len(due) > e.cfg.BatchSize {
		due = due[:e.cfg.BatchSize]
	}
	return due, nil
}

// nextDueAt is enrollment + delay for the first step and previous send +
// delay for later ones.
func nextDueAt(t *models.CampaignLead, steps []models.EmailSequence) (time.Time, bool) {
	next := t.CurrentStep + 1
	if next > len(steps) {
		return time.Time{}, false
	}
	delay := time.Duration(steps[next-1].DelayHours) * time.Hour
	if t.CurrentStep == 0 {
		return t.EnrolledAt.Add(delay), true
	}
	if t.SentAt == nil {
		return time.Time{}, false
	}
	return t.SentAt.Add(delay), true
}

type reservation struct {
	activity models.CampaignActivity
	tracker  models.CampaignLead
	lead     models.Lead
	step     models.EmailSequence
}

// reserve runs the throttle and quota checks and claims the tracker, all
// under the campaign row lock.
func (e *DispatchEngine) reserve(ctx context.Context, campaign *models.Campaign, steps []models.EmailSequence, trackerID uint, expectedStep int) (*reservation, error) {
	var res *reservation
	// a lead that turns terminal here is skipped, but the terminal write
	// must still commit
	skipped := false
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockCampaign(tx, campaign.CompanyID, campaign.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.CampaignRunning {
			return errNotRunning
		}

		now := e.now()
		if err := e.checkThrottle(tx, locked, now); err != nil {
			return err
		}
		if err := checkMonthlyQuota(tx, locked.CompanyID, now); err != nil {
			return err
		}

		var tracker models.CampaignLead
		if err := tx.Where("id = ?", trackerID).First(&tracker).Error; err != nil {
			return err
		}
		if tracker.Finished(len(steps), locked.StopOnReply) || tracker.CurrentStep != expectedStep || tracker.DispatchingAt != nil {
			return errSkipLead
		}

		var lead models.Lead
		if err := tx.Where("id = ? AND company_id = ?", tracker.LeadID, locked.CompanyID).First(&lead).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if err := failTracker(tx, &tracker, "lead no longer exists", now); err != nil {
					return err
				}
				skipped = true
				return nil
			}
			return err
		}
		if suppressed, err := e.suppress(tx, locked, &tracker, &lead, now); err != nil {
			return err
		} else if suppressed {
			skipped = true
			return nil
		}

		step := steps[tracker.CurrentStep]
		variant := tracker.Variant
		if variant == "" {
			variant = models.VariantA
			if step.HasVariant() && lead.ID%2 == 1 {
				variant = models.VariantB
			}
		}

		claim := tx.Model(&models.CampaignLead{}).
			Where("id = ? AND dispatching_at IS NULL AND current_step = ?", tracker.ID, expectedStep).
			Where("status IN ?", activeLeadStatuses).
			Updates(map[string]interface{}{
				"dispatching_at":  now,
				"last_attempt_at": now,
				"variant":         variant,
				"updated_at":      now,
			})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return errSkipLead
		}

		activity := models.CampaignActivity{
			CompanyID:      locked.CompanyID,
			CampaignID:     locked.ID,
			CampaignLeadID: tracker.ID,
			LeadID:         lead.ID,
			SequenceID:     step.ID,
			StepOrder:      step.StepOrder,
			Variant:        variant,
			Recipient:      lead.Email,
			MessageID:      uuid.NewString(),
			Status:         models.DispatchPending,
			SentAt:         now,
		}
		if err := tx.Create(&activity).Error; err != nil {
			return err
		}

		tracker.Variant = variant
		res = &reservation{activity: activity, tracker: tracker, lead: lead, step: step}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if skipped {
		return nil, errSkipLead
	}
	return res, nil
}

// checkThrottle counts pending and sent dispatch records in the trailing
// hour and day.
func (e *DispatchEngine) checkThrottle(tx *gorm.DB, campaign *models.Campaign, now time.Time) error {
	count := func(since time.Time) (int64, error) {
		var n int64
		err := tx.Model(&models.CampaignActivity{}).
			Where("campaign_id = ? AND sent_at > ?", campaign.ID, since).
			Where("status IN ?", []models.DispatchStatus{models.DispatchPending, models.DispatchSent}).
			Count(&n).Error
		return n, err
	}

	hourly, err := count(now.Add(-time.Hour))
	if err != nil {
		return err
	}
	if hourly >= int64(campaign.ThrottlePerHour) {
		return throttled(stopHourlyThrottle)
	}
	daily, err := count(now.Add(-24 * time.Hour))
	if err != nil {
		return err
	}
	if daily >= int64(campaign.ThrottlePerDay) {
		return throttled(stopDailyThrottle)
	}
	return nil
}

type throttleError struct{ reason string }

func (t throttleError) Error() string        { return t.reason }
func (t throttleError) Is(target error) bool { return target == errThrottled }

func throttled(reason string) error { return throttleError{reason: reason} }

// checkMonthlyQuota enforces the company's emails_per_month.
func checkMonthlyQuota(tx *gorm.DB, companyID uint, now time.Time) error {
	var company models.Company
	if err := tx.Select("id", "emails_per_month").Where("id = ?", companyID).First(&company).Error; err != nil {
		return err
	}
	if company.EmailsPerMonth <= 0 {
		return nil
	}
	var used int64
	if err := tx.Model(&models.CampaignActivity{}).
		Where("company_id = ? AND sent_at >= ?", companyID, startOfMonth(now)).
		Where("status IN ?", []models.DispatchStatus{models.DispatchPending, models.DispatchSent}).
		Count(&used).Error; err != nil {
		return err
	}
	if used >= int64(company.EmailsPerMonth) {
		return models.NewQuotaExceeded("emails_per_month", company.EmailsPerMonth, int(used)+1)
	}
	return nil
}

// suppress marks the tracker terminal when the address unsubscribed or hard
// bounced since enrollment.
func (e *DispatchEngine) suppress(tx *gorm.DB, campaign *models.Campaign, tracker *models.CampaignLead, lead *models.Lead, now time.Time) (bool, error) {
	email := utils.NormalizeEmail(lead.Email)
	if email == "" || lead.EmailStatus == models.EmailInvalid {
		return true, failTracker(tx, tracker, "lead has no deliverable address", now)
	}

	var unsub int64
	if err := tx.Model(&models.Unsubscribe{}).Where("company_id = ? AND email = ?", campaign.CompanyID, email).Count(&unsub).Error; err != nil {
		return false, err
	}
	if unsub > 0 {
		return true, markTerminal(tx, tracker, models.LeadUnsubscribed, now)
	}

	var bounced int64
	if err := tx.Model(&models.Bounce{}).Where("company_id = ? AND email = ? AND type = ?", campaign.CompanyID, email, models.BounceHard).Count(&bounced).Error; err != nil {
		return false, err
	}
	if bounced > 0 {
		return true, markTerminal(tx, tracker, models.LeadBounced, now)
	}
	return false, nil
}

// markTerminal moves a tracker to bounced or unsubscribed and counts the
// transition on the campaign.
func markTerminal(tx *gorm.DB, tracker *models.CampaignLead, status models.LeadStatus, at time.Time) error {
	updates := map[string]interface{}{"status": status, "updated_at": at, "dispatching_at": nil}
	counter := "unsubscribes"
	if status == models.LeadBounced {
		updates["bounced_at"] = at
		counter = "emails_bounced"
	} else {
		updates["unsubscribed_at"] = at
	}
	res := tx.Model(&models.CampaignLead{}).
		Where("id = ? AND status IN ?", tracker.ID, []models.LeadStatus{
			models.LeadPending, models.LeadSent, models.LeadOpened, models.LeadClicked, models.LeadReplied, models.LeadFailed,
		}).
		Updates(updates)
	if res.Error != nil || res.RowsAffected == 0 {
		return res.Error
	}
	return tx.Model(&models.Campaign{}).Where("id = ?", tracker.CampaignID).
		UpdateColumn(counter, gorm.Expr(counter+" + ?", 1)).Error
}

func failTracker(tx *gorm.DB, tracker *models.CampaignLead, reason string, at time.Time) error {
	return tx.Model(&models.CampaignLead{}).Where("id = ?", tracker.ID).Updates(map[string]interface{}{
		"status":         models.LeadFailed,
		"last_error":     reason,
		"completed_at":   at,
		"dispatching_at": nil,
		"updated_at":     at,
	}).Error
}

// send renders and delivers a reserved step, then records the outcome.
func (e *DispatchEngine) send(ctx context.Context, campaign *models.Campaign, settings *models.CompanySettings, res *reservation) error {
	email := e.render(campaign, settings, res)

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	providerID, sendErr := e.transport.Send(sendCtx, email)
	cancel()

	// the outcome must be recorded even when the cycle is being canceled
	recordCtx := context.WithoutCancel(ctx)
	if sendErr != nil {
		failure := models.NewDispatchFailure(res.tracker.ID, res.step.StepOrder, sendErr)
		if err := e.recordFailure(recordCtx, res, sendErr); err != nil {
			utils.LogError("dispatch_record_failure_failed", err, map[string]interface{}{"activity_id": res.activity.ID})
		}
		utils.LogError("dispatch_failure", failure, map[string]interface{}{
			"company_id":       campaign.CompanyID,
			"campaign_id":      campaign.ID,
			"campaign_lead_id": res.tracker.ID,
			"step":             res.step.StepOrder,
			"message_id":       res.activity.MessageID,
		})
		return failure
	}

	if err := e.recordSuccess(recordCtx, res, providerID); err != nil {
		utils.LogError("dispatch_record_success_failed", err, map[string]interface{}{"activity_id": res.activity.ID})
		return err
	}
	return nil
}

func (e *DispatchEngine) render(campaign *models.Campaign, settings *models.CompanySettings, res *reservation) utils.OutboundEmail {
	msgID := res.activity.MessageID
	unsubscribeURL := e.tracker.UnsubscribeURL(msgID)
	fields := utils.LeadMergeFields(&res.lead, unsubscribeURL)

	subjectTmpl, bodyTmpl := res.step.Content(res.tracker.Variant)
	subject := utils.Personalize(subjectTmpl, fields, false)
	body := utils.Personalize(bodyTmpl, fields, true)

	if settings.EmailSignatureHTML != "" {
		body += "<br><br>" + settings.EmailSignatureHTML
	}
	if !strings.Contains(bodyTmpl, "unsubscribe_url") {
		body += `<p style="font-size:11px;color:#888"><a href="` + unsubscribeURL + `">Unsubscribe</a></p>`
	}
	body = e.tracker.Inject(body, msgID, campaign.TrackOpens, campaign.TrackClicks)

	return utils.OutboundEmail{
		MessageID:      msgID,
		FromName:       campaign.FromName,
		FromEmail:      campaign.FromEmail,
		ReplyTo:        campaign.ReplyTo,
		To:             res.lead.Email,
		ToName:         res.lead.FullName,
		Subject:        subject,
		HTMLBody:       body,
		UnsubscribeURL: unsubscribeURL,
	}
}

func (e *DispatchEngine) recordSuccess(ctx context.Context, res *reservation, providerID string) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := e.now()
		if err := tx.Model(&models.CampaignActivity{}).Where("id = ?", res.activity.ID).Updates(map[string]interface{}{
			"status":              models.DispatchSent,
			"provider_message_id": providerID,
			"updated_at":          now,
		}).Error; err != nil {
			return err
		}

		var tracker models.CampaignLead
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", res.tracker.ID).First(&tracker).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"dispatching_at": nil, "updated_at": now}
		// a bounce or unsubscribe that landed mid-send freezes the tracker
		if !tracker.Status.IsTerminal() && tracker.Status != models.LeadFailed && tracker.CurrentStep == res.step.StepOrder-1 {
			updates["current_step"] = res.step.StepOrder
			// the reservation time, which is what the throttle counts
			updates["sent_at"] = res.activity.SentAt
			updates["failed_attempts"] = 0
			updates["last_error"] = ""
			if tracker.Status == models.LeadPending {
				updates["status"] = models.LeadSent
			}
			var steps int64
			if err := tx.Model(&models.EmailSequence{}).Where("campaign_id = ?", tracker.CampaignID).Count(&steps).Error; err != nil {
				return err
			}
			if int64(res.step.StepOrder) >= steps {
				updates["completed_at"] = now
			}
		}
		if err := tx.Model(&tracker).Updates(updates).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Campaign{}).Where("id = ?", tracker.CampaignID).
			UpdateColumn("emails_sent", gorm.Expr("emails_sent + ?", 1)).Error; err != nil {
			return err
		}
		return tx.Model(&models.EmailSequence{}).Where("id = ?", res.step.ID).
			UpdateColumn("emails_sent", gorm.Expr("emails_sent + ?", 1)).Error
	})
}

func (e *DispatchEngine) recordFailure(ctx context.Context, res *reservation, cause error) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.failActivity(tx, res.activity.ID, res.tracker.ID, cause.Error())
	})
}

// failActivity marks a dispatch record failed, releases the tracker and
// applies the retry ceiling.
func (e *DispatchEngine) failActivity(tx *gorm.DB, activityID, trackerID uint, reason string) error {
	now := e.now()
	if err := tx.Model(&models.CampaignActivity{}).Where("id = ?", activityID).Updates(map[string]interface{}{
		"status":     models.DispatchFailed,
		"error":      truncate(reason, 1000),
		"updated_at": now,
	}).Error; err != nil {
		return err
	}

	var tracker models.CampaignLead
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", trackerID).First(&tracker).Error; err != nil {
		return err
	}
	attempts := tracker.FailedAttempts + 1
	updates := map[string]interface{}{
		"dispatching_at":  nil,
		"failed_attempts": attempts,
		"last_error":      truncate(reason, 1000),
		"updated_at":      now,
	}
	if attempts >= e.cfg.MaxAttempts && !tracker.Status.IsTerminal() {
		updates["status"] = models.LeadFailed
		updates["completed_at"] = now
	}
	return tx.Model(&tracker).Updates(updates).Error
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// RecoverStaleLeases fails dispatch records left pending longer than the
// lease timeout, which happens when an instance dies mid-send.
func (e *DispatchEngine) RecoverStaleLeases(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.cfg.LeaseTimeout)

	var stale []models.CampaignActivity
	if err := e.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", models.DispatchPending, cutoff).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	recovered := 0
	for _, a := range stale {
		err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.CampaignActivity{}).
				Where("id = ? AND status = ?", a.ID, models.DispatchPending).
				Update("status", models.DispatchFailed)
			if res.Error != nil || res.RowsAffected == 0 {
				return res.Error
			}
			recovered++
			return e.failActivity(tx, a.ID, a.CampaignLeadID, "dispatch lease expired")
		})
		if err != nil {
			return recovered, err
		}
	}
	if recovered > 0 {
		utils.LogEvent("dispatch_leases_recovered", map[string]interface{}{"count": recovered})
	}
	return recovered, nil
}
