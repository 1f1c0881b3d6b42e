package controller

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"leadforge/models"
	"leadforge/services"
	"leadforge/utils"
)

type LeadService interface {
	Create(ctx context.Context, companyID, userID uint, in services.CreateLeadInput) (*models.Lead, error)
	CreateBatch(ctx context.Context, companyID, userID uint, inputs []services.CreateLeadInput) (*services.ImportResult, error)
	Import(ctx context.Context, companyID, userID uint, r io.Reader, format string) (*services.ImportResult, error)
	Export(ctx context.Context, companyID uint, f services.LeadFilter, format string, w io.Writer) (string, error)
	List(ctx context.Context, companyID uint, f services.LeadFilter, p utils.Pagination) ([]models.Lead, int64, error)
	Get(ctx context.Context, companyID, id uint) (*models.Lead, error)
	Update(ctx context.Context, companyID, id uint, in services.UpdateLeadInput) (*models.Lead, error)
	Delete(ctx context.Context, companyID, id uint) error
	Enrich(ctx context.Context, companyID, id uint) (*models.Lead, error)
	Verify(ctx context.Context, companyID, id uint) (*utils.VerificationResult, error)
	StartVerification(ctx context.Context, companyID, userID uint, leadIDs []uint) (*models.EmailVerification, error)
	GetVerification(ctx context.Context, companyID, id uint) (*models.EmailVerification, error)
}

const maxImportUpload = 10 << 20

type LeadController struct {
	leads  LeadService
	logger *logrus.Logger
}

func NewLeadController(leads LeadService, logger *logrus.Logger) *LeadController {
	return &LeadController{leads: leads, logger: logger}
}

// filterFromQuery reads list and export filters. Dates are YYYY-MM-DD and
// created_to is inclusive.
func filterFromQuery(c *fiber.Ctx) (services.LeadFilter, error) {
	f := services.LeadFilter{
		Search:        strings.TrimSpace(c.Query("search")),
		Source:        c.Query("source"),
		EmailStatus:   c.Query("email_status"),
		CompanySize:   c.Query("company_size"),
		Industry:      c.Query("industry"),
		Tag:           c.Query("tag"),
		ScrapingJobID: uint(c.QueryInt("scraping_job_id", 0)),
		Sort:          c.Query("sort"),
		Order:         c.Query("order"),
	}
	if v := c.Query("created_from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, models.NewValidation("invalid created_from", map[string]string{"created_from": "must be YYYY-MM-DD"})
		}
		f.CreatedFrom = &t
	}
	if v := c.Query("created_to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, models.NewValidation("invalid created_to", map[string]string{"created_to": "must be YYYY-MM-DD"})
		}
		t = t.AddDate(0, 0, 1)
		f.CreatedTo = &t
	}
	return f, nil
}

func (lc *LeadController) List(c *fiber.Ctx) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return handleError(c, err)
	}
	p := utils.PaginationFromQuery(c)
	leads, total, err := lc.leads.List(c.UserContext(), caller(c).CompanyID, f, p)
	if err != nil {
		return handleError(c, err)
	}
	return paginated(c, leads, total, p)
}

func (lc *LeadController) Get(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "lead ID")
	}
	lead, err := lc.leads.Get(c.UserContext(), caller(c).CompanyID, id)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, lead)
}

func (lc *LeadController) Create(c *fiber.Ctx) error {
	var in services.CreateLeadInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	who := caller(c)
	lead, err := lc.leads.Create(c.UserContext(), who.CompanyID, who.UserID, in)
	if err != nil {
		return handleError(c, err)
	}
	return created(c, lead)
}

func (lc *LeadController) Update(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "lead ID")
	}
	var in services.UpdateLeadInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	lead, err := lc.leads.Update(c.UserContext(), caller(c).CompanyID, id, in)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, lead)
}

func (lc *LeadController) Delete(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "lead ID")
	}
	if err := lc.leads.Delete(c.UserContext(), caller(c).CompanyID, id); err != nil {
		return handleError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Import takes either a multipart upload in the "file" field (CSV or XLSX)
// or a JSON body {"leads": [...]}.
func (lc *LeadController) Import(c *fiber.Ctx) error {
	who := caller(c)
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		file, err := c.FormFile("file")
		if err != nil {
			return badRequest(c, "A file field is required", err)
		}
		if file.Size > maxImportUpload {
			return handleError(c, models.NewValidation("file too large", map[string]string{"file": "must be at most 10MB"}))
		}
		format, err := services.FormatFromFilename(file.Filename)
		if err != nil {
			return handleError(c, err)
		}
		src, err := file.Open()
		if err != nil {
			return badRequest(c, "Could not read upload", err)
		}
		defer src.Close()

		result, err := lc.leads.Import(c.UserContext(), who.CompanyID, who.UserID, src, format)
		if err != nil {
			return handleError(c, err)
		}
		lc.logImport(who, file.Filename, result)
		return ok(c, result)
	}

	var in struct {
		Leads []services.CreateLeadInput `json:"leads"`
	}
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if len(in.Leads) == 0 {
		return handleError(c, models.NewValidation("no leads to import", map[string]string{"leads": "required"}))
	}
	result, err := lc.leads.CreateBatch(c.UserContext(), who.CompanyID, who.UserID, in.Leads)
	if err != nil {
		return handleError(c, err)
	}
	lc.logImport(who, "json", result)
	return ok(c, result)
}

func (lc *LeadController) logImport(who models.Identity, source string, result *services.ImportResult) {
	lc.logger.WithFields(logrus.Fields{
		"company_id": who.CompanyID,
		"user_id":    who.UserID,
		"source":     source,
		"imported":   result.Imported,
		"duplicates": result.Duplicates,
	}).Info("Leads imported")
}

func (lc *LeadController) Export(c *fiber.Ctx) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return handleError(c, err)
	}
	format := strings.ToLower(c.Query("format", services.FormatCSV))
	var buf bytes.Buffer
	name, err := lc.leads.Export(c.UserContext(), caller(c).CompanyID, f, format, &buf)
	if err != nil {
		return handleError(c, err)
	}
	c.Attachment(name)
	return c.Send(buf.Bytes())
}

func (lc *LeadController) Enrich(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "lead ID")
	}
	lead, err := lc.leads.Enrich(c.UserContext(), caller(c).CompanyID, id)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, lead)
}

func (lc *LeadController) Verify(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return invalidID(c, "lead ID")
	}
	result, err := lc.leads.Verify(c.UserContext(), caller(c).CompanyID, id)
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, result)
}
