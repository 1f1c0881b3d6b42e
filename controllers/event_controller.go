package controller

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"leadforge/models"
	"leadforge/services"
	"leadforge/utils"
)

type EventService interface {
	ApplyEvent(ctx context.Context, companyID, campaignID, leadID uint, ev models.CampaignEvent) (*services.EventResult, error)
	ApplyEventByMessageID(ctx context.Context, messageID string, ev models.CampaignEvent) (*services.EventResult, error)
}

// TokenVerifier checks the signature carried by tracking links.
type TokenVerifier interface {
	Verify(messageID, token string) bool
}

// transparentGIF is a 1x1 transparent GIF
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type EventController struct {
	events        EventService
	tracker       TokenVerifier
	webhookSecret string
	logger        *logrus.Logger
}

func NewEventController(events EventService, tracker TokenVerifier, webhookSecret string, logger *logrus.Logger) *EventController {
	return &EventController{events: events, tracker: tracker, webhookSecret: webhookSecret, logger: logger}
}

type eventRequest struct {
	LeadID     uint      `json:"lead_id"`
	MessageID  string    `json:"message_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	BounceType string    `json:"bounce_type"`
	Diagnostic string    `json:"diagnostic"`
	URL        string    `json:"url"`
}

func (r eventRequest) event(source string) models.CampaignEvent {
	return models.CampaignEvent{
		Type:       models.EventType(r.Type),
		OccurredAt: r.OccurredAt,
		BounceType: r.BounceType,
		Diagnostic: r.Diagnostic,
		URL:        r.URL,
		Source:     source,
	}
}

// RecordEvent applies an event posted by an authenticated user for a lead
// of one of their campaigns.
func (ec *EventController) RecordEvent(c *fiber.Ctx) error {
	campaignID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	var in eventRequest
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if in.LeadID == 0 {
		return handleError(c, models.NewValidation("lead_id is required", map[string]string{"lead_id": "required"}))
	}
	result, err := ec.events.ApplyEvent(c.UserContext(), caller(c).CompanyID, campaignID, in.LeadID, in.event("api"))
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, result)
}

// Webhook accepts provider events keyed by message id. The shared secret
// travels in X-Webhook-Secret.
func (ec *EventController) Webhook(c *fiber.Ctx) error {
	secret := c.Get("X-Webhook-Secret")
	if ec.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(ec.webhookSecret)) != 1 {
		return handleError(c, models.NewUnauthorized("invalid webhook secret"))
	}
	var in eventRequest
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	result, err := ec.events.ApplyEventByMessageID(c.UserContext(), in.MessageID, in.event("webhook"))
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, result)
}

// track applies a tracking link event. Failures are logged only; the
// recipient always gets a response.
func (ec *EventController) track(c *fiber.Ctx, ev models.CampaignEvent) bool {
	messageID := c.Params("messageID")
	if !ec.tracker.Verify(messageID, c.Params("token")) {
		utils.LogEvent("tracking_token_rejected", map[string]interface{}{"message_id": messageID, "ip": c.IP()})
		return false
	}
	ev.Source = "tracking"
	_, err := ec.events.ApplyEventByMessageID(c.UserContext(), messageID, ev)
	switch {
	case err == nil:
		return true
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidTransition):
		ec.logger.WithError(err).WithField("message_id", messageID).Debug("Tracking event ignored")
	default:
		utils.LogError("tracking_event_failed", err, map[string]interface{}{"message_id": messageID, "type": ev.Type})
	}
	return false
}

func (ec *EventController) TrackOpen(c *fiber.Ctx) error {
	ec.track(c, models.CampaignEvent{Type: models.EventOpen})
	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate, max-age=0")
	return c.Send(transparentGIF)
}

func (ec *EventController) TrackClick(c *fiber.Ctx) error {
	target := c.Query("url")
	parsed, err := url.Parse(target)
	if target == "" || err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return badRequest(c, "Invalid redirect URL", nil)
	}
	ec.track(c, models.CampaignEvent{Type: models.EventClick, URL: target})
	return c.Redirect(target, fiber.StatusFound)
}

func (ec *EventController) Unsubscribe(c *fiber.Ctx) error {
	if !ec.track(c, models.CampaignEvent{Type: models.EventUnsubscribe}) && !ec.tracker.Verify(c.Params("messageID"), c.Params("token")) {
		return c.Status(fiber.StatusNotFound).SendString("This unsubscribe link is not valid.")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString("<html><body><p>You have been unsubscribed and will not receive further emails from this sender.</p></body></html>")
}
