package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"leadforge/models"
	"leadforge/services"
	"leadforge/utils"
)

type EventApplier interface {
	ApplyEventByMessageID(ctx context.Context, messageID string, ev models.CampaignEvent) (*services.EventResult, error)
}

const (
	inboxFetchLimit = 500
	// first poll of a newly configured inbox looks this far back
	inboxLookback = 7 * 24 * time.Hour
	// later polls overlap the previous one; the unique message index drops repeats
	inboxOverlap = 24 * time.Hour
)

// InboxWorker polls each configured company inbox for replies and bounces
// to dispatched emails and feeds them to the event service.
type InboxWorker struct {
	db        *gorm.DB
	events    EventApplier
	transport utils.MailTransport
	appName   string
	interval  time.Duration
	dial      MailboxDialer
	logger    *logrus.Logger
	now       func() time.Time
}

func NewInboxWorker(db *gorm.DB, events EventApplier, transport utils.MailTransport, appName string, interval time.Duration, logger *logrus.Logger) *InboxWorker {
	return &InboxWorker{
		db:        db,
		events:    events,
		transport: transport,
		appName:   appName,
		interval:  interval,
		dial:      DialIMAP,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (w *InboxWorker) Start(ctx context.Context) {
	w.logger.WithField("interval", w.interval.String()).Info("Starting inbox worker...")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.PollAll(ctx)
		case <-ctx.Done():
			w.logger.Info("Stopping inbox worker...")
			return
		}
	}
}

// PollAll polls every company with inbox credentials, one at a time.
func (w *InboxWorker) PollAll(ctx context.Context) {
	var settings []models.CompanySettings
	err := w.db.WithContext(ctx).
		Where("inbox_host <> '' AND inbox_username <> '' AND inbox_password_enc <> ''").
		Find(&settings).Error
	if err != nil {
		utils.LogError("inbox_settings_query_failed", err, nil)
		return
	}
	for _, s := range settings {
		if ctx.Err() != nil {
			return
		}
		n, err := w.PollCompany(ctx, s)
		if err != nil {
			utils.LogError("inbox_poll_failed", err, map[string]interface{}{"company_id": s.CompanyID})
			continue
		}
		if n > 0 {
			w.logger.WithFields(logrus.Fields{"company_id": s.CompanyID, "matched": n}).Info("Inbox messages processed")
		}
	}
}

// PollCompany fetches recent messages from one inbox and returns how many
// were matched to a dispatched email.
func (w *InboxWorker) PollCompany(ctx context.Context, settings models.CompanySettings) (int, error) {
	password, err := utils.Decrypt(settings.InboxPasswordEnc)
	if err != nil {
		return 0, err
	}
	mb, err := w.dial(settings, password)
	if err != nil {
		return 0, err
	}
	defer mb.Close()

	now := w.now()
	since := now.Add(-inboxLookback)
	if settings.InboxLastPolledAt != nil {
		since = settings.InboxLastPolledAt.Add(-inboxOverlap)
	}
	raws, err := mb.Fetch(since, inboxFetchLimit)
	if err != nil && len(raws) == 0 {
		return 0, err
	}

	matched := 0
	for _, raw := range raws {
		msg, err := parseMessage(raw)
		if err != nil {
			w.logger.WithError(err).WithField("company_id", settings.CompanyID).Debug("Skipping unparseable message")
			continue
		}
		ok, err := w.handle(ctx, settings, msg)
		if err != nil {
			utils.LogError("inbox_message_failed", err, map[string]interface{}{
				"company_id": settings.CompanyID,
				"message_id": msg.MessageID,
			})
			continue
		}
		if ok {
			matched++
		}
	}

	if err := w.db.WithContext(ctx).Model(&models.CompanySettings{}).
		Where("id = ?", settings.ID).
		Update("inbox_last_polled_at", now).Error; err != nil {
		return matched, err
	}
	return matched, nil
}

// handle records msg once and applies it to the first candidate dispatch
// record owned by the company.
func (w *InboxWorker) handle(ctx context.Context, settings models.CompanySettings, msg *inboundMessage) (bool, error) {
	kind, candidates, bounceType := classify(msg)
	if len(candidates) == 0 {
		return false, nil
	}

	db := w.db.WithContext(ctx)
	var activity models.CampaignActivity
	found := false
	for _, id := range candidates {
		err := db.Where("company_id = ? AND message_id = ?", settings.CompanyID, id).First(&activity).Error
		if err == nil {
			found = true
			break
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
	}
	if !found {
		return false, nil
	}

	received := msg.Date.UTC()
	if msg.Date.IsZero() {
		received = w.now()
	}
	body := msg.Text
	if body == "" {
		body = msg.HTML
	}
	record := models.InboxMessage{
		CompanyID:      settings.CompanyID,
		MessageID:      msg.MessageID,
		From:           msg.From,
		Subject:        msg.Subject,
		Body:           body,
		ReceivedAt:     received,
		Kind:           kind,
		ActivityID:     &activity.ID,
		CampaignID:     &activity.CampaignID,
		CampaignLeadID: &activity.CampaignLeadID,
	}
	if len(msg.InReplyTo) > 0 {
		record.InReplyTo = msg.InReplyTo[0]
	}
	for i, ref := range msg.References {
		if i > 0 {
			record.References += " "
		}
		record.References += ref
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	ev := models.CampaignEvent{
		Type:       kind,
		OccurredAt: received,
		Source:     "inbox",
	}
	if kind == models.EventBounce {
		ev.BounceType = bounceType
		ev.Diagnostic = snippet(msg.Report+" "+msg.Text, 500)
	}
	result, err := w.events.ApplyEventByMessageID(ctx, activity.MessageID, ev)
	if err != nil {
		if _, known := models.AsAppError(err); known {
			w.logger.WithError(err).WithField("message_id", activity.MessageID).Debug("Inbox event not applied")
			return true, nil
		}
		// let the next poll retry
		db.Delete(&models.InboxMessage{}, record.ID)
		return false, err
	}

	if kind == models.EventReply && result.Applied && settings.NotifyOnReply {
		w.notifyReply(ctx, settings, msg, result.CampaignLead)
	}
	return true, nil
}

func (w *InboxWorker) notifyReply(ctx context.Context, settings models.CompanySettings, msg *inboundMessage, tracker *models.CampaignLead) {
	if tracker == nil || w.transport == nil {
		return
	}
	db := w.db.WithContext(ctx)
	var campaign models.Campaign
	if err := db.Where("id = ? AND company_id = ?", tracker.CampaignID, settings.CompanyID).First(&campaign).Error; err != nil {
		return
	}
	var owner models.User
	if err := db.Where("id = ? AND company_id = ? AND is_active = ?", campaign.CreatedBy, settings.CompanyID, true).First(&owner).Error; err != nil {
		return
	}
	var lead models.Lead
	if err := db.Where("id = ?", tracker.LeadID).First(&lead).Error; err != nil {
		return
	}

	leadName := lead.FullName
	if leadName == "" {
		leadName = lead.Email
	}
	text := msg.Text
	if text == "" {
		text = msg.HTML
	}
	subject, body, err := utils.RenderNotification("reply", map[string]interface{}{
		"AppName":      w.appName,
		"LeadName":     leadName,
		"CampaignName": campaign.Name,
		"Subject":      msg.Subject,
		"Snippet":      snippet(text, 300),
	})
	if err != nil {
		utils.LogError("reply_notification_render_failed", err, nil)
		return
	}
	if _, err := w.transport.Send(ctx, utils.OutboundEmail{
		MessageID: uuid.NewString(),
		FromName:  w.appName,
		FromEmail: settings.DefaultFromEmail,
		To:        owner.Email,
		ToName:    owner.FullName,
		Subject:   subject,
		HTMLBody:  body,
	}); err != nil {
		utils.LogError("reply_notification_failed", err, map[string]interface{}{"user_id": owner.ID})
	}
}
