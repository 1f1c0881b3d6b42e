package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"leadforge/models"
	"leadforge/services"
	"leadforge/utils"
)

type EnrollmentService interface {
	Enroll(ctx context.Context, companyID, campaignID uint, leadIDs []uint) (*services.EnrollmentResult, error)
	Unenroll(ctx context.Context, companyID, campaignID, leadID uint) error
	List(ctx context.Context, companyID, campaignID uint, status string, p utils.Pagination) ([]models.CampaignLead, int64, error)
}

type CampaignLeadController struct {
	enrollment EnrollmentService
}

func NewCampaignLeadController(enrollment EnrollmentService) *CampaignLeadController {
	return &CampaignLeadController{enrollment: enrollment}
}

func (cc *CampaignLeadController) List(c *fiber.Ctx) error {
	campaignID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	p := utils.PaginationFromQuery(c)
	trackers, total, err := cc.enrollment.List(c.UserContext(), caller(c).CompanyID, campaignID, c.Query("status"), p)
	if err != nil {
		return handleError(c, err)
	}
	return paginated(c, trackers, total, p)
}

func (cc *CampaignLeadController) Enroll(c *fiber.Ctx) error {
	campaignID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	var in services.EnrollInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(in); err != nil {
		return handleError(c, err)
	}
	result, err := cc.enrollment.Enroll(c.UserContext(), caller(c).CompanyID, campaignID, in.LeadIDs)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, result)
}

// Unenroll removes the leads listed in the body from a draft campaign.
func (cc *CampaignLeadController) Unenroll(c *fiber.Ctx) error {
	campaignID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	var in services.EnrollInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(in); err != nil {
		return handleError(c, err)
	}
	companyID := caller(c).CompanyID
	for _, leadID := range in.LeadIDs {
		if err := cc.enrollment.Unenroll(c.UserContext(), companyID, campaignID, leadID); err != nil {
			return handleError(c, err)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}
