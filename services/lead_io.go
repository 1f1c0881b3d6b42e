package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
	"leadforge/models"
	"leadforge/utils"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	maxImportRows   = 10000
	importBatchSize = 100
)

type ImportSkip struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	TotalRows  int          `json:"total_rows"`
	Imported   int          `json:"imported"`
	Duplicates int          `json:"duplicates"`
	Skipped    []ImportSkip `json:"skipped"`
	LeadIDs    []uint       `json:"lead_ids,omitempty"`
}

// header spellings seen in CRM and spreadsheet exports, keyed by the
// normalised header
var importHeaderAliases = map[string]string{
	"email": "email", "e mail": "email", "email address": "email", "work email": "email",
	"first name": "first_name", "firstname": "first_name", "given name": "first_name",
	"last name": "last_name", "lastname": "last_name", "surname": "last_name", "family name": "last_name",
	"name": "full_name", "full name": "full_name", "fullname": "full_name",
	"title": "title", "job title": "title", "position": "title", "role": "title",
	"company": "company", "company name": "company", "organization": "company", "organisation": "company",
	"company url": "company_url", "website": "company_url", "domain": "company_url", "company website": "company_url",
	"phone": "phone", "phone number": "phone", "mobile": "phone",
	"linkedin": "linkedin_url", "linkedin url": "linkedin_url", "linkedin profile": "linkedin_url",
	"twitter": "twitter_handle", "instagram": "instagram_handle",
	"city": "city", "state": "state", "region": "state", "country": "country",
	"industry": "industry", "company size": "company_size", "employees": "company_size",
	"tags": "tags", "notes": "notes",
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// FormatFromFilename picks the import format from an upload's extension.
func FormatFromFilename(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", models.NewValidation("unsupported file type", map[string]string{"file": "must be .csv or .xlsx"})
}

func readRows(r io.Reader, format string) ([][]string, error) {
	switch format {
	case FormatCSV:
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, models.NewValidation("could not parse CSV: "+err.Error(), map[string]string{"file": "invalid csv"})
		}
		return rows, nil
	case FormatXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, models.NewValidation("could not open workbook: "+err.Error(), map[string]string{"file": "invalid xlsx"})
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, models.NewValidation("workbook has no sheets", map[string]string{"file": "empty workbook"})
		}
		return f.GetRows(sheets[0])
	}
	return nil, models.NewValidation("unsupported format", map[string]string{"format": "must be csv or xlsx"})
}

// rowsToInputs maps spreadsheet rows onto lead inputs using the header row.
// Row numbers are 1-based including the header, as a spreadsheet shows them.
func rowsToInputs(rows [][]string) ([]CreateLeadInput, []int, error) {
	if len(rows) < 2 {
		return nil, nil, models.NewValidation("file must have a header and at least one row", map[string]string{"file": "no data rows"})
	}
	if len(rows)-1 > maxImportRows {
		return nil, nil, models.NewValidation(fmt.Sprintf("file has more than %d rows", maxImportRows), map[string]string{"file": "too many rows"})
	}

	columns := make(map[int]string)
	for i, h := range rows[0] {
		if field, ok := importHeaderAliases[normalizeHeader(h)]; ok {
			columns[i] = field
		}
	}
	if len(columns) == 0 {
		return nil, nil, models.NewValidation("no recognised columns in header", map[string]string{"file": "header must include email or name columns"})
	}

	inputs := make([]CreateLeadInput, 0, len(rows)-1)
	numbers := make([]int, 0, len(rows)-1)
	for n, row := range rows[1:] {
		var in CreateLeadInput
		empty := true
		for i, cell := range row {
			field, ok := columns[i]
			cell = strings.TrimSpace(cell)
			if !ok || cell == "" {
				continue
			}
			empty = false
			assignImportField(&in, field, cell)
		}
		if empty {
			continue
		}
		inputs = append(inputs, in)
		numbers = append(numbers, n+2)
	}
	return inputs, numbers, nil
}

func assignImportField(in *CreateLeadInput, field, v string) {
	switch field {
	case "email":
		in.Email = v
	case "first_name":
		in.FirstName = v
	case "last_name":
		in.LastName = v
	case "full_name":
		in.FullName = v
	case "title":
		in.Title = v
	case "company":
		in.Company = v
	case "company_url":
		if !strings.Contains(v, "://") {
			v = "https://" + v
		}
		in.CompanyURL = v
	case "phone":
		in.Phone = v
	case "linkedin_url":
		in.LinkedInURL = v
	case "twitter_handle":
		in.TwitterHandle = strings.TrimPrefix(v, "@")
	case "instagram_handle":
		in.InstagramHandle = strings.TrimPrefix(v, "@")
	case "city":
		in.City = v
	case "state":
		in.State = v
	case "country":
		in.Country = v
	case "industry":
		in.Industry = v
	case "company_size":
		in.CompanySize = v
	case "tags":
		for _, t := range strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == ',' }) {
			if t = strings.TrimSpace(t); t != "" {
				in.Tags = append(in.Tags, t)
			}
		}
	case "notes":
		in.Notes = v
	}
}

// Import reads a CSV or XLSX upload and stores its rows as leads.
func (s *LeadService) Import(ctx context.Context, companyID, userID uint, r io.Reader, format string) (*ImportResult, error) {
	rows, err := readRows(r, format)
	if err != nil {
		return nil, err
	}
	inputs, numbers, err := rowsToInputs(rows)
	if err != nil {
		return nil, err
	}
	return s.importLeads(ctx, companyID, userID, models.SourceImport, inputs, numbers)
}

// CreateBatch stores a JSON batch of leads with the same rules as a file
// import.
func (s *LeadService) CreateBatch(ctx context.Context, companyID, userID uint, inputs []CreateLeadInput) (*ImportResult, error) {
	if len(inputs) == 0 {
		return nil, models.NewValidation("no leads given", map[string]string{"leads": "required"})
	}
	if len(inputs) > maxImportRows {
		return nil, models.NewValidation("too many leads", map[string]string{"leads": fmt.Sprintf("at most %d per batch", maxImportRows)})
	}
	numbers := make([]int, len(inputs))
	for i := range inputs {
		numbers[i] = i + 1
	}
	return s.importLeads(ctx, companyID, userID, models.SourceAPI, inputs, numbers)
}

// importLeads validates and dedupes rows, then inserts them in batches. The
// lead quota covers the whole batch: if it does not fit nothing is stored.
func (s *LeadService) importLeads(ctx context.Context, companyID, userID uint, source models.LeadSource, inputs []CreateLeadInput, numbers []int) (*ImportResult, error) {
	result := &ImportResult{TotalRows: len(inputs), Skipped: []ImportSkip{}}

	var candidates []models.Lead
	seen := map[string]bool{}
	for i, in := range inputs {
		in = in.trimmed()
		if err := utils.ValidateStruct(in); err != nil {
			result.Skipped = append(result.Skipped, ImportSkip{Row: numbers[i], Reason: err.Error()})
			continue
		}
		lead := in.toLead(companyID, userID, source)
		if lead.Email == "" && lead.FullName == "" && lead.LinkedInURL == "" {
			result.Skipped = append(result.Skipped, ImportSkip{Row: numbers[i], Reason: "row has no email, name or linkedin url"})
			continue
		}
		if lead.Email != "" {
			if seen[lead.Email] {
				result.Duplicates++
				continue
			}
			seen[lead.Email] = true
		}
		candidates = append(candidates, lead)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := existingEmails(tx, companyID, candidates)
		if err != nil {
			return err
		}
		fresh := candidates[:0]
		for _, l := range candidates {
			if l.Email != "" && existing[l.Email] {
				result.Duplicates++
				continue
			}
			fresh = append(fresh, l)
		}
		if len(fresh) == 0 {
			return nil
		}
		if err := checkLeadQuota(tx, companyID, len(fresh)); err != nil {
			return err
		}
		if err := tx.CreateInBatches(&fresh, importBatchSize).Error; err != nil {
			return err
		}
		result.Imported = len(fresh)
		for _, l := range fresh {
			result.LeadIDs = append(result.LeadIDs, l.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.LogEvent("leads_imported", map[string]interface{}{
		"company_id": companyID,
		"source":     source,
		"rows":       result.TotalRows,
		"imported":   result.Imported,
		"duplicates": result.Duplicates,
		"skipped":    len(result.Skipped),
	})
	return result, nil
}

func existingEmails(tx *gorm.DB, companyID uint, leads []models.Lead) (map[string]bool, error) {
	var emails []string
	for _, l := range leads {
		if l.Email != "" {
			emails = append(emails, l.Email)
		}
	}
	found := map[string]bool{}
	for start := 0; start < len(emails); start += 500 {
		end := start + 500
		if end > len(emails) {
			end = len(emails)
		}
		var rows []string
		if err := tx.Model(&models.Lead{}).
			Where("company_id = ? AND email IN ?", companyID, emails[start:end]).
			Pluck("email", &rows).Error; err != nil {
			return nil, err
		}
		for _, e := range rows {
			found[e] = true
		}
	}
	return found, nil
}

var exportHeader = []string{
	"email", "first_name", "last_name", "full_name", "title", "company", "company_url",
	"phone", "linkedin_url", "city", "state", "country", "industry", "company_size",
	"email_status", "source", "tags", "created_at",
}

func exportRecord(l *models.Lead) []string {
	return []string{
		l.Email, l.FirstName, l.LastName, l.FullName, l.Title, l.CompanyName, l.CompanyURL,
		l.Phone, l.LinkedInURL, l.City, l.State, l.Country, l.Industry, l.CompanySize,
		string(l.EmailStatus), string(l.Source), strings.Join(l.Tags, ";"),
		l.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

const maxExportRows = 50000

// Export writes the filtered leads as CSV or XLSX and returns the file name.
func (s *LeadService) Export(ctx context.Context, companyID uint, f LeadFilter, format string, w io.Writer) (string, error) {
	q, err := f.apply(s.db.WithContext(ctx).Model(&models.Lead{}).Where("company_id = ?", companyID))
	if err != nil {
		return "", err
	}
	var leads []models.Lead
	if err := q.Order(f.orderBy()).Limit(maxExportRows).Find(&leads).Error; err != nil {
		return "", err
	}

	name := "leads_export_" + s.now().Format("20060102") + "." + format
	switch format {
	case FormatCSV:
		writer := csv.NewWriter(w)
		if err := writer.Write(exportHeader); err != nil {
			return "", err
		}
		for i := range leads {
			if err := writer.Write(exportRecord(&leads[i])); err != nil {
				return "", err
			}
		}
		writer.Flush()
		return name, writer.Error()
	case FormatXLSX:
		return name, writeXLSX(w, leads)
	}
	return "", models.NewValidation("unsupported format", map[string]string{"format": "must be csv or xlsx"})
}

func writeXLSX(w io.Writer, leads []models.Lead) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Leads"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}

	header := make([]interface{}, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(exportHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return err
	}

	for i := range leads {
		record := exportRecord(&leads[i])
		row := make([]interface{}, len(record))
		for j, v := range record {
			row[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.Write(w)
}
