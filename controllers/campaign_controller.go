package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"leadforge/models"
	"leadforge/services"
	"leadforge/utils"
)

type CampaignService interface {
	Create(ctx context.Context, companyID, userID uint, in services.CreateCampaignInput) (*models.Campaign, error)
	List(ctx context.Context, companyID uint, status string, p utils.Pagination) ([]models.Campaign, int64, error)
	Get(ctx context.Context, companyID, id uint) (*services.CampaignDetail, error)
	Update(ctx context.Context, companyID, id uint, in services.UpdateCampaignInput) (*models.Campaign, error)
	Delete(ctx context.Context, companyID, id uint) error
	Start(ctx context.Context, companyID, id uint) (*models.Campaign, error)
	Pause(ctx context.Context, companyID, id uint) (*models.Campaign, error)
	Resume(ctx context.Context, companyID, id uint) (*models.Campaign, error)
	Cancel(ctx context.Context, companyID, id uint) (*models.Campaign, error)
}

type CampaignController struct {
	campaigns CampaignService
	logger    *logrus.Logger
}

func NewCampaignController(campaigns CampaignService, logger *logrus.Logger) *CampaignController {
	return &CampaignController{campaigns: campaigns, logger: logger}
}

func (cc *CampaignController) Create(c *fiber.Ctx) error {
	var in services.CreateCampaignInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	id := caller(c)
	campaign, err := cc.campaigns.Create(c.UserContext(), id.CompanyID, id.UserID, in)
	if err != nil {
		return handleError(c, err)
	}
	return created(c, campaign)
}

func (cc *CampaignController) List(c *fiber.Ctx) error {
	p := utils.PaginationFromQuery(c)
	campaigns, total, err := cc.campaigns.List(c.UserContext(), caller(c).CompanyID, c.Query("status"), p)
	if err != nil {
		return handleError(c, err)
	}
	return paginated(c, campaigns, total, p)
}

func (cc *CampaignController) Get(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	detail, err := cc.campaigns.Get(c.UserContext(), caller(c).CompanyID, id)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, detail)
}

func (cc *CampaignController) Update(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	var in services.UpdateCampaignInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	campaign, err := cc.campaigns.Update(c.UserContext(), caller(c).CompanyID, id, in)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, campaign)
}

func (cc *CampaignController) Delete(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	if err := cc.campaigns.Delete(c.UserContext(), caller(c).CompanyID, id); err != nil {
		return handleError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type campaignAction func(ctx context.Context, companyID, id uint) (*models.Campaign, error)

// transition runs one state machine action and logs the outcome.
func (cc *CampaignController) transition(name string, action campaignAction) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, valid := paramID(c, "id")
		if !valid {
			return invalidID(c, "campaign ID")
		}
		who := caller(c)
		campaign, err := action(c.UserContext(), who.CompanyID, id)
		if err != nil {
			return handleError(c, err)
		}
		cc.logger.WithFields(logrus.Fields{
			"campaign_id": campaign.ID,
			"company_id":  who.CompanyID,
			"user_id":     who.UserID,
			"status":      campaign.Status,
		}).Infof("Campaign %s", name)
		return ok(c, campaign)
	}
}

func (cc *CampaignController) Start() fiber.Handler {
	return cc.transition("started", cc.campaigns.Start)
}

func (cc *CampaignController) Pause() fiber.Handler {
	return cc.transition("paused", cc.campaigns.Pause)
}

func (cc *CampaignController) Resume() fiber.Handler {
	return cc.transition("resumed", cc.campaigns.Resume)
}

func (cc *CampaignController) Cancel() fiber.Handler {
	return cc.transition("canceled", cc.campaigns.Cancel)
}
