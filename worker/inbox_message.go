package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"leadforge/models"
	"leadforge/utils"
)

const maxPartSize = 256 << 10

// inboundMessage is the part of a received email the watcher looks at.
type inboundMessage struct {
	MessageID  string
	InReplyTo  []string
	References []string
	From       string
	Subject    string
	Date       time.Time
	Text       string
	HTML       string
	// Report holds delivery status and returned headers of a bounce.
	Report   string
	IsReport bool
}

// parseMessage reads an RFC 5322 message. Parts that cannot be decoded are
// skipped rather than failing the whole message.
func parseMessage(raw []byte) (*inboundMessage, error) {
	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, err
	}
	defer mr.Close()

	h := mr.Header
	msg := &inboundMessage{}
	msg.MessageID, _ = h.MessageID()
	msg.InReplyTo, _ = h.MsgIDList("In-Reply-To")
	msg.References, _ = h.MsgIDList("References")
	msg.Subject, _ = h.Subject()
	msg.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = strings.ToLower(from[0].Address)
	}
	if ct, _, err := h.ContentType(); err == nil {
		msg.IsReport = ct == "multipart/report"
	}
	if msg.MessageID == "" {
		sum := sha256.Sum256(raw)
		msg.MessageID = "sha256-" + hex.EncodeToString(sum[:16])
	}

	var report strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if msg.Text != "" || msg.HTML != "" || report.Len() > 0 {
				break
			}
			return nil, err
		}
		// delivery reports arrive as attachment parts
		var ct string
		inline := false
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ = h.ContentType()
			inline = true
		case *mail.AttachmentHeader:
			ct, _, _ = h.ContentType()
		}
		b, err := io.ReadAll(io.LimitReader(p.Body, maxPartSize))
		if err != nil {
			continue
		}
		switch {
		case inline && ct == "text/plain" && msg.Text == "":
			msg.Text = string(b)
		case inline && ct == "text/html" && msg.HTML == "":
			msg.HTML = string(b)
		case strings.HasPrefix(ct, "message/") || ct == "text/rfc822-headers":
			report.Write(b)
			report.WriteString("\n")
		}
	}
	msg.Report = report.String()
	return msg, nil
}

var (
	bounceSenders  = regexp.MustCompile(`^(mailer-daemon|postmaster)@`)
	bounceSubjects = regexp.MustCompile(`(?i)(undeliver|delivery status notification \(failure\)|returned mail|failure notice|delivery failure|mail delivery failed)`)
	returnedID     = regexp.MustCompile(`(?im)^\s*Message-ID:\s*<([^>\s]+)>`)
	hardStatus     = regexp.MustCompile(`(?im)(^\s*Status:\s*5\.\d+\.\d+|\b5\d\d[ -]5\.\d+\.\d+)`)
	softStatus     = regexp.MustCompile(`(?im)(^\s*Status:\s*4\.\d+\.\d+|\b4\d\d[ -]4\.\d+\.\d+)`)
)

const (
	bounceHard = "hard"
	bounceSoft = "soft"
)

// classify decides whether msg is a bounce or a reply and lists the
// internal message ids it may refer to, most specific first.
func classify(msg *inboundMessage) (kind models.EventType, candidates []string, bounceType string) {
	var ids []string
	if msg.IsReport || bounceSenders.MatchString(msg.From) || bounceSubjects.MatchString(msg.Subject) {
		kind = models.EventBounce
		body := msg.Report + "\n" + msg.Text
		for _, m := range returnedID.FindAllStringSubmatch(body, -1) {
			ids = append(ids, m[1])
		}
		ids = append(ids, msg.InReplyTo...)
		bounceType = bounceHard
		if !hardStatus.MatchString(body) && softStatus.MatchString(body) {
			bounceType = bounceSoft
		}
	} else {
		kind = models.EventReply
		ids = append(ids, msg.InReplyTo...)
		for i := len(msg.References) - 1; i >= 0; i-- {
			ids = append(ids, msg.References[i])
		}
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		internal := utils.ParseMessageID(id)
		if internal == "" || seen[internal] {
			continue
		}
		seen[internal] = true
		candidates = append(candidates, internal)
	}
	return kind, candidates, bounceType
}

// snippet trims text to n runes on a word boundary.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	cut := string(r[:n])
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
