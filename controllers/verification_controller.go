package controller

import (
	"github.com/gofiber/fiber/v2"
)

// BulkVerify queues verification of the given leads, or of every unverified
// lead when lead_ids is empty. The run is polled through GetVerification.
func (lc *LeadController) BulkVerify(c *fiber.Ctx) error {
	var in struct {
		LeadIDs []uint `json:"lead_ids"`
	}
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &in); err != nil {
			return badRequest(c, "Invalid request body", err)
		}
	}
	who := caller(c)
	run, err := lc.leads.StartVerification(c.UserContext(), who.CompanyID, who.UserID, in.LeadIDs)
	if err != nil {
		return handleError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"data":    run,
	})
}

func (lc *LeadController) GetVerification(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "verification ID")
	}
	run, err := lc.leads.GetVerification(c.UserContext(), caller(c).CompanyID, id)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, run)
}
