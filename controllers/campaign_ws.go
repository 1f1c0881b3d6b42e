package controller

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"leadforge/middleware"
	"leadforge/models"
	"leadforge/utils"
)

const progressInterval = 3 * time.Second

type campaignProgress struct {
	CampaignID       uint                        `json:"campaign_id"`
	Status           models.CampaignStatus       `json:"status"`
	TotalLeads       int                         `json:"total_leads"`
	EmailsSent       int                         `json:"emails_sent"`
	EmailsOpened     int                         `json:"emails_opened"`
	EmailsReplied    int                         `json:"emails_replied"`
	EmailsBounced    int                         `json:"emails_bounced"`
	LeadStatusCounts map[models.LeadStatus]int64 `json:"lead_status_counts"`
	Percent          float64                     `json:"percent"`
}

// ProgressUpgrade authenticates the ?token= query parameter, since browsers
// cannot set headers on a websocket handshake, and allows the upgrade.
func ProgressUpgrade(auth middleware.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		token := c.Query("token")
		if token == "" {
			token = c.Cookies("access_token")
		}
		id, err := auth.Authenticate(c.UserContext(), token)
		if err != nil {
			return handleError(c, err)
		}
		middleware.WithIdentity(c, *id)
		return c.Next()
	}
}

// Progress streams campaign counters until the campaign reaches a final
// status or the client goes away.
func (cc *CampaignController) Progress() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		id, _ := conn.Locals(middleware.IdentityKey).(models.Identity)
		campaignID := utils.ParseUint(conn.Params("id"))
		log := cc.logger.WithFields(logrus.Fields{"campaign_id": campaignID, "user_id": id.UserID})

		// reader goroutine notices the client closing
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			detail, err := cc.campaigns.Get(ctx, id.CompanyID, campaignID)
			cancel()
			if err != nil {
				_ = conn.WriteJSON(fiber.Map{"error": err.Error()})
				return
			}

			if err := conn.WriteJSON(progressOf(detail.Campaign, detail.LeadStatusCounts)); err != nil {
				log.WithError(err).Debug("Progress socket write failed")
				return
			}
			if detail.Status.IsFinal() {
				return
			}

			select {
			case <-closed:
				return
			case <-ticker.C:
			}
		}
	})
}

// progressOf reports the share of trackers the dispatch engine is done with.
func progressOf(c models.Campaign, counts map[models.LeadStatus]int64) campaignProgress {
	p := campaignProgress{
		CampaignID:       c.ID,
		Status:           c.Status,
		TotalLeads:       c.TotalLeads,
		EmailsSent:       c.EmailsSent,
		EmailsOpened:     c.EmailsOpened,
		EmailsReplied:    c.EmailsReplied,
		EmailsBounced:    c.EmailsBounced,
		LeadStatusCounts: counts,
	}
	if c.Status == models.CampaignCompleted {
		p.Percent = 100
		return p
	}
	var total, done int64
	for status, n := range counts {
		total += n
		if status != models.LeadPending {
			done += n
		}
	}
	p.Percent = utils.Rate(done, total)
	return p
}
