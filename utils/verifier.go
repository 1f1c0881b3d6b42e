package utils

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/likexian/whois"
	"leadforge/models"
)

// VerificationResult is the outcome of checking one address.
type VerificationResult struct {
	Email          string             `json:"email"`
	Status         models.EmailStatus `json:"status"`
	Score          int                `json:"score"`
	Reason         string             `json:"reason"`
	IsDisposable   bool               `json:"is_disposable"`
	IsFreeProvider bool               `json:"is_free_provider"`
	IsRoleAccount  bool               `json:"is_role_account"`
	DomainInfo     string             `json:"domain_info,omitempty"`
}

// Verifier classifies an email address.
type Verifier interface {
	Verify(ctx context.Context, email string) (*VerificationResult, error)
}

var (
	disposableDomains = map[string]bool{
		"10minutemail.com": true, "20minutemail.com": true, "33mail.com": true,
		"discard.email": true, "dispostable.com": true, "emailondeck.com": true,
		"fakeinbox.com": true, "getairmail.com": true, "getnada.com": true,
		"guerrillamail.com": true, "guerrillamail.net": true, "guerrillamailblock.com": true,
		"harakirimail.com": true, "incognitomail.org": true, "jetable.org": true,
		"mailcatch.com": true, "maildrop.cc": true, "mailinator.com": true,
		"mailnesia.com": true, "mintemail.com": true, "moakt.com": true,
		"mohmal.com": true, "mytemp.email": true, "sharklasers.com": true,
		"spambox.us": true, "spamgourmet.com": true, "temp-mail.org": true,
		"tempail.com": true, "tempmail.com": true, "tempmailo.com": true,
		"tempr.email": true, "throwawaymail.com": true, "trashmail.com": true,
		"trashmail.net": true, "yopmail.com": true, "yopmail.net": true,
	}

	// Major free email providers
	freeEmailProviders = map[string]bool{
		"gmail.com": true, "yahoo.com": true, "outlook.com": true, "hotmail.com": true,
		"aol.com": true, "protonmail.com": true, "icloud.com": true, "mail.com": true,
		"yandex.com": true, "zoho.com": true, "gmx.com": true,
	}

	roleLocalParts = map[string]bool{
		"admin": true, "info": true, "support": true, "sales": true, "contact": true,
		"hello": true, "office": true, "team": true, "noreply": true, "no-reply": true,
	}

	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	// Common email typos
	commonTypos = map[string]string{
		"gmai.com":   "gmail.com",
		"gmal.com":   "gmail.com",
		"gmail.co":   "gmail.com",
		"yaho.com":   "yahoo.com",
		"hotmai.com": "hotmail.com",
		"outlok.com": "outlook.com",
	}
)

// precheck runs the offline checks shared by every verifier. A non-nil
// result is final.
func precheck(email string) (*VerificationResult, string, string) {
	result := &VerificationResult{Email: email, Status: models.EmailInvalid}
	if !emailRegex.MatchString(email) {
		result.Reason = "invalid email format"
		return result, "", ""
	}
	local, domain, _ := strings.Cut(email, "@")
	if suggested, ok := commonTypos[domain]; ok {
		result.Reason = fmt.Sprintf("possible typo, did you mean %s@%s?", local, suggested)
		return result, "", ""
	}
	if disposableDomains[domain] {
		result.IsDisposable = true
		result.Reason = "disposable email domain"
		return result, "", ""
	}
	return nil, local, domain
}

// LiveVerifier checks syntax, MX records and, when enabled, probes the
// mailbox over SMTP.
type LiveVerifier struct {
	HeloDomain string
	MailFrom   string
	SMTPProbe  bool
	WHOIS      bool
}

func NewLiveVerifier(heloDomain, mailFrom string) *LiveVerifier {
	return &LiveVerifier{HeloDomain: heloDomain, MailFrom: mailFrom, SMTPProbe: true, WHOIS: true}
}

func (v *LiveVerifier) Verify(ctx context.Context, email string) (*VerificationResult, error) {
	email = NormalizeEmail(email)
	res, local, domain := precheck(email)
	if res != nil {
		return res, nil
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return &VerificationResult{Email: email, Status: models.EmailInvalid, Reason: "invalid email format: " + err.Error()}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &VerificationResult{
		Email:          email,
		IsFreeProvider: freeEmailProviders[domain],
		IsRoleAccount:  roleLocalParts[local],
	}

	if err := checkmail.ValidateHost(email); err != nil {
		result.Status = models.EmailInvalid
		result.Reason = "domain validation failed: " + err.Error()
		return result, nil
	}

	result.Status, result.Score, result.Reason = models.EmailValid, 80, "domain accepts mail"
	if v.SMTPProbe && !result.IsFreeProvider {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v.probe(result)
	}
	if result.IsRoleAccount && result.Status == models.EmailValid {
		result.Status, result.Score, result.Reason = models.EmailRisky, 50, "role account"
	}

	if v.WHOIS {
		if info, err := whois.Whois(domain); err == nil {
			result.DomainInfo = firstLines(info, 5)
		}
	}
	return result, nil
}

func (v *LiveVerifier) probe(result *VerificationResult) {
	err := checkmail.ValidateHostAndUser(v.HeloDomain, v.MailFrom, result.Email)
	if err == nil {
		result.Status, result.Score, result.Reason = models.EmailValid, 95, "recipient accepted"
		return
	}

	var smtpErr checkmail.SmtpError
	if errors.As(err, &smtpErr) {
		switch {
		case strings.HasPrefix(smtpErr.Code(), "55"):
			result.Status, result.Score, result.Reason = models.EmailInvalid, 0, "mailbox does not exist"
			return
		case strings.HasPrefix(smtpErr.Code(), "4"):
			result.Status, result.Score, result.Reason = models.EmailRisky, 40, "temporary failure: "+smtpErr.Error()
			return
		}
	}
	result.Status, result.Score, result.Reason = models.EmailRisky, 40, "smtp probe inconclusive"
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// FixtureVerifier classifies addresses offline and deterministically.
type FixtureVerifier struct{}

func (FixtureVerifier) Verify(ctx context.Context, email string) (*VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)
	res, local, domain := precheck(email)
	if res != nil {
		return res, nil
	}
	result := &VerificationResult{
		Email:          email,
		Status:         models.EmailValid,
		Score:          70,
		Reason:         "format valid",
		IsFreeProvider: freeEmailProviders[domain],
		IsRoleAccount:  roleLocalParts[local],
	}
	switch {
	case result.IsRoleAccount:
		result.Status, result.Score, result.Reason = models.EmailRisky, 50, "role account"
	case result.IsFreeProvider:
		result.Score, result.Reason = 85, "common provider"
	}
	return result, nil
}

// NewVerifier returns the live verifier for mode "live", the fixture
// otherwise.
func NewVerifier(mode, heloDomain, mailFrom string) Verifier {
	if mode == "live" {
		return NewLiveVerifier(heloDomain, mailFrom)
	}
	return FixtureVerifier{}
}
