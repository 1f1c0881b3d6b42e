package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"leadforge/models"
	"leadforge/services"
)

type CompanyService interface {
	Get(ctx context.Context, companyID uint) (*models.Company, error)
	Update(ctx context.Context, companyID uint, in services.UpdateCompanyInput) (*models.Company, error)
	Settings(ctx context.Context, companyID uint) (*models.CompanySettings, error)
	UpdateSettings(ctx context.Context, companyID uint, in services.UpdateSettingsInput) (*models.CompanySettings, error)
	ListUsers(ctx context.Context, companyID uint) ([]models.User, error)
	InviteUser(ctx context.Context, inviter models.Identity, in services.InviteUserInput) (*models.User, error)
	UpdateUserRole(ctx context.Context, companyID, userID uint, role string) (*models.User, error)
	DeactivateUser(ctx context.Context, caller models.Identity, userID uint) error
}

type CompanyController struct {
	companies CompanyService
}

func NewCompanyController(companies CompanyService) *CompanyController {
	return &CompanyController{companies: companies}
}

func (cc *CompanyController) Get(c *fiber.Ctx) error {
	company, err := cc.companies.Get(c.UserContext(), caller(c).CompanyID)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, company)
}

func (cc *CompanyController) Update(c *fiber.Ctx) error {
	var in services.UpdateCompanyInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	company, err := cc.companies.Update(c.UserContext(), caller(c).CompanyID, in)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, company)
}

func (cc *CompanyController) GetSettings(c *fiber.Ctx) error {
	settings, err := cc.companies.Settings(c.UserContext(), caller(c).CompanyID)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, settings)
}

func (cc *CompanyController) UpdateSettings(c *fiber.Ctx) error {
	var in services.UpdateSettingsInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	settings, err := cc.companies.UpdateSettings(c.UserContext(), caller(c).CompanyID, in)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, settings)
}

func (cc *CompanyController) ListUsers(c *fiber.Ctx) error {
	users, err := cc.companies.ListUsers(c.UserContext(), caller(c).CompanyID)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, users)
}

func (cc *CompanyController) InviteUser(c *fiber.Ctx) error {
	var in services.InviteUserInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	user, err := cc.companies.InviteUser(c.UserContext(), caller(c), in)
	if err != nil {
		return handleError(c, err)
	}
	return created(c, user)
}

func (cc *CompanyController) UpdateUserRole(c *fiber.Ctx) error {
	userID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "user ID")
	}
	var in struct {
		Role string `json:"role"`
	}
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	user, err := cc.companies.UpdateUserRole(c.UserContext(), caller(c).CompanyID, userID, in.Role)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, user)
}

func (cc *CompanyController) DeactivateUser(c *fiber.Ctx) error {
	userID, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "user ID")
	}
	if err := cc.companies.DeactivateUser(c.UserContext(), caller(c), userID); err != nil {
		return handleError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
