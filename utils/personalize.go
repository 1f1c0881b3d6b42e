package utils

import (
	"html"
	"strings"

	"leadforge/models"
)

// LeadMergeFields returns the placeholder values available to step templates.
func LeadMergeFields(lead *models.Lead, unsubscribeURL string) map[string]string {
	first := lead.FirstName
	if first == "" {
		first = "there"
	}
	return map[string]string{
		"first_name":      first,
		"last_name":       lead.LastName,
		"full_name":       lead.FullName,
		"company":         lead.CompanyName,
		"title":           lead.Title,
		"email":           lead.Email,
		"city":            lead.City,
		"industry":        lead.Industry,
		"unsubscribe_url": unsubscribeURL,
	}
}

// Personalize substitutes {{key}} and {{ key }} placeholders. Values are
// HTML-escaped when escape is set; unknown placeholders are left in place.
func Personalize(tmpl string, fields map[string]string, escape bool) string {
	pairs := make([]string, 0, len(fields)*4)
	for k, v := range fields {
		if escape && k != "unsubscribe_url" {
			v = html.EscapeString(v)
		}
		pairs = append(pairs, "{{"+k+"}}", v, "{{ "+k+" }}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
