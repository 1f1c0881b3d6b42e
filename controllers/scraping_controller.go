package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"leadforge/models"
	"leadforge/services"
	"leadforge/utils"
)

type ScrapingService interface {
	Create(ctx context.Context, companyID, userID uint, in services.CreateScrapingJobInput) (*models.ScrapingJob, error)
	List(ctx context.Context, companyID uint, status string, p utils.Pagination) ([]models.ScrapingJob, int64, error)
	Get(ctx context.Context, companyID, id uint) (*models.ScrapingJob, error)
	Start(ctx context.Context, companyID, id uint) (*models.ScrapingJob, error)
	Cancel(ctx context.Context, companyID, id uint) (*models.ScrapingJob, error)
	Delete(ctx context.Context, companyID, id uint) error
}

type ScrapingController struct {
	jobs ScrapingService
}

func NewScrapingController(jobs ScrapingService) *ScrapingController {
	return &ScrapingController{jobs: jobs}
}

func (sc *ScrapingController) List(c *fiber.Ctx) error {
	p := utils.PaginationFromQuery(c)
	jobs, total, err := sc.jobs.List(c.UserContext(), caller(c).CompanyID, c.Query("status"), p)
	if err != nil {
		return handleError(c, err)
	}
	return paginated(c, jobs, total, p)
}

func (sc *ScrapingController) Get(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "job ID")
	}
	job, err := sc.jobs.Get(c.UserContext(), caller(c).CompanyID, id)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, job)
}

func (sc *ScrapingController) Create(c *fiber.Ctx) error {
	var in services.CreateScrapingJobInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	who := caller(c)
	job, err := sc.jobs.Create(c.UserContext(), who.CompanyID, who.UserID, in)
	if err != nil {
		return handleError(c, err)
	}
	return created(c, job)
}

func (sc *ScrapingController) Start(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "job ID")
	}
	job, err := sc.jobs.Start(c.UserContext(), caller(c).CompanyID, id)
	if err != nil {
		return handleError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(utils.SuccessResponse(job))
}

func (sc *ScrapingController) Cancel(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "job ID")
	}
	job, err := sc.jobs.Cancel(c.UserContext(), caller(c).CompanyID, id)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, job)
}

func (sc *ScrapingController) Delete(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "job ID")
	}
	if err := sc.jobs.Delete(c.UserContext(), caller(c).CompanyID, id); err != nil {
		return handleError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
