package utils

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerTokenRoundTrip(t *testing.T) {
	tr := NewTracker("https://t.example.com/", "secret")
	token := tr.Token("msg-1")

	assert.Len(t, token, 22)
	assert.True(t, tr.Verify("msg-1", token))
	assert.False(t, tr.Verify("msg-2", token))
	assert.False(t, NewTracker("https://t.example.com", "other").Verify("msg-1", token))
}

func TestTrackerInject(t *testing.T) {
	tr := NewTracker("https://t.example.com", "secret")
	body := `<p>See <a href="https://acme.io/pricing?x=1">pricing</a> or <a href="mailto:a@b.co">mail</a>.</p>` +
		`<a href="` + tr.UnsubscribeURL("msg-1") + `">unsubscribe</a>`

	out := tr.Inject(body, "msg-1", true, true)

	assert.Contains(t, out, "/track/click/msg-1/"+tr.Token("msg-1")+"?url="+url.QueryEscape("https://acme.io/pricing?x=1"))
	assert.Contains(t, out, `href="mailto:a@b.co"`)
	assert.Contains(t, out, `href="`+tr.UnsubscribeURL("msg-1")+`"`)
	assert.True(t, strings.HasSuffix(out, `style="display:none">`))
	assert.Contains(t, out, tr.PixelURL("msg-1"))
}

func TestTrackerInjectDisabled(t *testing.T) {
	tr := NewTracker("https://t.example.com", "secret")
	body := `<a href="https://acme.io">x</a>`
	assert.Equal(t, body, tr.Inject(body, "m", false, false))
}

func TestPersonalize(t *testing.T) {
	fields := map[string]string{
		"first_name":      "Tom & Co",
		"company":         "Acme",
		"unsubscribe_url": "https://t.example.com/u?a=1&b=2",
	}
	out := Personalize("Hi {{first_name}} at {{ company }}, {{unknown}} <a href=\"{{unsubscribe_url}}\">", fields, true)
	assert.Equal(t, `Hi Tom &amp; Co at Acme, {{unknown}} <a href="https://t.example.com/u?a=1&b=2">`, out)

	assert.Equal(t, "Hi Tom & Co", Personalize("Hi {{first_name}}", fields, false))
}

func TestMessageIDHelpers(t *testing.T) {
	header := FormatMessageID("0b7c", "mail.example.com")
	require.Equal(t, "<0b7c@mail.example.com>", header)
	assert.Equal(t, "0b7c", ParseMessageID(header))
	assert.Equal(t, "0b7c", ParseMessageID(" 0b7c "))
}

func TestIsTemporarySMTPError(t *testing.T) {
	assert.True(t, IsTemporarySMTPError(errString("421 Service not available, try again later")))
	assert.True(t, IsTemporarySMTPError(errString("451 4.7.1 greylisted")))
	assert.False(t, IsTemporarySMTPError(errString("550 5.1.1 user unknown")))
	assert.False(t, IsTemporarySMTPError(nil))
}

type errString string

func (e errString) Error() string { return string(e) }
