package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"leadforge/models"
	"leadforge/services"
)

type SequenceService interface {
	List(ctx context.Context, companyID, campaignID uint) ([]models.EmailSequence, error)
	AddStep(ctx context.Context, companyID, campaignID uint, in services.StepInput) (*models.EmailSequence, error)
	UpdateStep(ctx context.Context, companyID, campaignID, stepID uint, in services.UpdateStepInput) (*models.EmailSequence, error)
	RemoveStep(ctx context.Context, companyID, campaignID, stepID uint) error
	Reorder(ctx context.Context, companyID, campaignID uint, stepIDs []uint) ([]models.EmailSequence, error)
}

type SequenceController struct {
	sequences SequenceService
}

func NewSequenceController(sequences SequenceService) *SequenceController {
	return &SequenceController{sequences: sequences}
}

func (sc *SequenceController) List(c *fiber.Ctx) error {
	campaignID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	steps, err := sc.sequences.List(c.UserContext(), caller(c).CompanyID, campaignID)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, steps)
}

func (sc *SequenceController) Add(c *fiber.Ctx) error {
	campaignID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	var in services.StepInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	step, err := sc.sequences.AddStep(c.UserContext(), caller(c).CompanyID, campaignID, in)
	if err != nil {
		return handleError(c, err)
	}
	return created(c, step)
}

func (sc *SequenceController) Update(c *fiber.Ctx) error {
	campaignID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	stepID, valid := paramID(c, "stepID")
	if !valid {
		return invalidID(c, "step ID")
	}
	var in services.UpdateStepInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	step, err := sc.sequences.UpdateStep(c.UserContext(), caller(c).CompanyID, campaignID, stepID, in)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, step)
}

func (sc *SequenceController) Remove(c *fiber.Ctx) error {
	campaignID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	stepID, valid := paramID(c, "stepID")
	if !valid {
		return invalidID(c, "step ID")
	}
	if err := sc.sequences.RemoveStep(c.UserContext(), caller(c).CompanyID, campaignID, stepID); err != nil {
		return handleError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (sc *SequenceController) Reorder(c *fiber.Ctx) error {
	campaignID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "campaign ID")
	}
	var in services.ReorderInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	steps, err := sc.sequences.Reorder(c.UserContext(), caller(c).CompanyID, campaignID, in.StepIDs)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, steps)
}
