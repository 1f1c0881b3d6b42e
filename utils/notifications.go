package utils

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"
)

// Embedded notification templates
var notificationTemplates = map[string]struct {
	subject string
	body    string
}{
	"invite": {
		subject: "You have been invited to {{.CompanyName}}",
		body: `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
    <h2>Welcome to {{.AppName}}</h2>
    <p>{{.InviterName}} added you to <strong>{{.CompanyName}}</strong> as {{.Role}}.</p>
    <p>Sign in with this address and the temporary password below, then change it.</p>
    <p style="font-size: 20px; font-weight: bold;">{{.TemporaryPassword}}</p>
    <p style="font-size: 12px; color: #7f8c8d;">© {{.Year}} {{.AppName}}</p>
</body>
</html>`,
	},
	"reply": {
		subject: "New reply from {{.LeadName}}",
		body: `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
    <h2>{{.LeadName}} replied to {{.CampaignName}}</h2>
    <p><strong>Subject:</strong> {{.Subject}}</p>
    <blockquote style="border-left: 3px solid #3498db; padding-left: 10px;">{{.Snippet}}</blockquote>
    <p style="font-size: 12px; color: #7f8c8d;">© {{.Year}} {{.AppName}}</p>
</body>
</html>`,
	},
}

// RenderNotification renders a system email. data must be a map so the
// current year can be added.
func RenderNotification(name string, data map[string]interface{}) (string, string, error) {
	tpl, ok := notificationTemplates[name]
	if !ok {
		return "", "", fmt.Errorf("template '%s' not found", name)
	}
	if _, ok := data["Year"]; !ok {
		data["Year"] = time.Now().Year()
	}

	var subject bytes.Buffer
	if err := texttemplate.Must(texttemplate.New("subject").Parse(tpl.subject)).Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("error executing template: %w", err)
	}
	body, err := execute(tpl.body, data)
	if err != nil {
		return "", "", err
	}
	return subject.String(), body, nil
}

func execute(text string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(text)
	if err != nil {
		return "", fmt.Errorf("error parsing template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error executing template: %w", err)
	}
	return buf.String(), nil
}
