package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Tracker builds signed open, click and unsubscribe URLs for a dispatched
// message and checks the signatures when they come back.
type Tracker struct {
	baseURL string
	secret  []byte
}

func NewTracker(baseURL, secret string) *Tracker {
	return &Tracker{baseURL: strings.TrimRight(baseURL, "/"), secret: []byte(secret)}
}

// Token is the HMAC of the message id, truncated for URL length.
func (t *Tracker) Token(messageID string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(messageID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))[:22]
}

func (t *Tracker) Verify(messageID, token string) bool {
	return hmac.Equal([]byte(t.Token(messageID)), []byte(token))
}

// PixelURL generates a tracking pixel URL for email opens
func (t *Tracker) PixelURL(messageID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", t.baseURL, messageID, t.Token(messageID))
}

// ClickURL generates a tracked URL for links
func (t *Tracker) ClickURL(messageID, target string) string {
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s", t.baseURL, messageID, t.Token(messageID), url.QueryEscape(target))
}

func (t *Tracker) UnsubscribeURL(messageID string) string {
	return fmt.Sprintf("%s/track/unsubscribe/%s/%s", t.baseURL, messageID, t.Token(messageID))
}

var hrefPattern = regexp.MustCompile(`(?i)href\s*=\s*"(https?://[^"]+)"`)

// Inject rewrites links for click tracking and appends the open pixel.
// Links into the tracking host itself, such as the unsubscribe link, are
// left alone.
func (t *Tracker) Inject(htmlContent, messageID string, opens, clicks bool) string {
	if clicks {
		htmlContent = hrefPattern.ReplaceAllStringFunc(htmlContent, func(match string) string {
			target := hrefPattern.FindStringSubmatch(match)[1]
			if strings.HasPrefix(target, t.baseURL+"/track/") {
				return match
			}
			return fmt.Sprintf(`href="%s"`, t.ClickURL(messageID, target))
		})
	}
	if opens {
		htmlContent += fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, t.PixelURL(messageID))
	}
	return htmlContent
}
