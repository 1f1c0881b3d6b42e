package controller

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"leadforge/middleware"
	"leadforge/models"
	"leadforge/utils"
)

var errorStatus = map[models.ErrorCode]int{
	models.CodeNotFound:          fiber.StatusNotFound,
	models.CodeInvalidTransition: fiber.StatusConflict,
	models.CodeConflict:          fiber.StatusConflict,
	models.CodeValidation:        fiber.StatusUnprocessableEntity,
	models.CodeQuotaExceeded:     fiber.StatusForbidden,
	models.CodeDispatchFailure:   fiber.StatusBadGateway,
	models.CodeUnauthorized:      fiber.StatusUnauthorized,
	models.CodeForbidden:         fiber.StatusForbidden,
}

// handleError writes a service error as JSON. Errors outside the AppError
// taxonomy are logged and reported as 500 without their text.
func handleError(c *fiber.Ctx, err error) error {
	appErr, ok := models.AsAppError(err)
	if !ok {
		utils.LogError("request_failed", err, map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "INTERNAL_ERROR",
			"message": "Internal server error",
		})
	}
	status, ok := errorStatus[appErr.Code]
	if !ok {
		status = fiber.StatusInternalServerError
	}
	body := fiber.Map{
		"success": false,
		"error":   appErr.Code,
		"message": appErr.Message,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, message string, err error) error {
	return utils.ErrorResponse(c, fiber.StatusBadRequest, message, err)
}

// bindJSON parses the request body into dst. Callers answer 400 on error.
func bindJSON(c *fiber.Ctx, dst interface{}) error {
	return c.BodyParser(dst)
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func invalidID(c *fiber.Ctx, name string) error {
	return badRequest(c, "Invalid "+name, nil)
}

// caller is the identity set by middleware.Protected. Handlers are only
// mounted behind it.
func caller(c *fiber.Ctx) models.Identity {
	id, _ := middleware.IdentityFrom(c)
	return id
}

func ok(c *fiber.Ctx, data interface{}) error {
	return c.JSON(utils.SuccessResponse(data))
}

func created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(data))
}

func paginated(c *fiber.Ctx, data interface{}, total int64, p utils.Pagination) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    utils.NewPaginatedResponse(data, total, p),
	})
}
