package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/net/html"
	"leadforge/models"
)

type ScrapeRequest struct {
	Source     models.LeadSource
	Query      string
	URLs       []string
	MaxResults int
}

// ScrapedLead is a contact found by a scraper, before it becomes a Lead.
type ScrapedLead struct {
	FirstName       string
	LastName        string
	Title           string
	Company         string
	CompanyURL      string
	Email           string
	Phone           string
	LinkedInURL     string
	InstagramHandle string
	City            string
	Country         string
	SourceURL       string
}

// Scraper collects contacts from a lead source.
type Scraper interface {
	Scrape(ctx context.Context, req ScrapeRequest) ([]ScrapedLead, error)
}

var ErrSourceUnsupported = errors.New("source not supported by this scraper")

var pageEmailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// WebScraper fetches public pages and extracts contact details. It only
// handles custom_urls jobs.
type WebScraper struct {
	client  *fasthttp.Client
	timeout time.Duration
}

func NewWebScraper() *WebScraper {
	return &WebScraper{
		client: &fasthttp.Client{
			Name:                "Mozilla/5.0 (compatible; LeadForgeBot/1.0)",
			MaxResponseBodySize: 5 << 20,
		},
		timeout: 15 * time.Second,
	}
}

func (s *WebScraper) Scrape(ctx context.Context, req ScrapeRequest) ([]ScrapedLead, error) {
	if req.Source != models.SourceCustomURLs {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnsupported, req.Source)
	}

	seen := map[string]bool{}
	var leads []ScrapedLead
	for _, raw := range req.URLs {
		if err := ctx.Err(); err != nil {
			return leads, err
		}
		body, err := s.fetch(ctx, raw)
		if err != nil {
			LogEvent("scrape_fetch_failed", map[string]interface{}{"url": raw, "error": err.Error()})
			continue
		}
		for _, lead := range extractContacts(body, raw) {
			key := strings.ToLower(lead.Email)
			if seen[key] {
				continue
			}
			seen[key] = true
			leads = append(leads, lead)
			if req.MaxResults > 0 && len(leads) >= req.MaxResults {
				return leads, nil
			}
		}
	}
	return leads, nil
}

func (s *WebScraper) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rawURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}
	return append([]byte(nil), resp.Body()...), nil
}

// extractContacts walks the page for mailto links, tel links and plain
// addresses in text.
func extractContacts(body []byte, pageURL string) []ScrapedLead {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	company := ""
	companyURL := ""
	if u, err := url.Parse(pageURL); err == nil {
		companyURL = u.Scheme + "://" + u.Host
		company = strings.TrimPrefix(u.Hostname(), "www.")
	}

	var emails []string
	var phone, linkedIn string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil:
			if t := strings.TrimSpace(n.FirstChild.Data); t != "" {
				company = strings.TrimSpace(strings.Split(t, "|")[0])
			}
		case n.Type == html.ElementNode && n.Data == "a":
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				switch {
				case strings.HasPrefix(strings.ToLower(href), "mailto:"):
					addr := strings.SplitN(href[len("mailto:"):], "?", 2)[0]
					emails = append(emails, addr)
				case strings.HasPrefix(strings.ToLower(href), "tel:") && phone == "":
					phone = href[len("tel:"):]
				case strings.Contains(href, "linkedin.com/") && linkedIn == "":
					linkedIn = href
				}
			}
		case n.Type == html.TextNode:
			emails = append(emails, pageEmailPattern.FindAllString(n.Data, -1)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var leads []ScrapedLead
	for _, email := range emails {
		email = NormalizeEmail(email)
		if !emailRegex.MatchString(email) {
			continue
		}
		first, last := nameFromLocalPart(strings.SplitN(email, "@", 2)[0])
		leads = append(leads, ScrapedLead{
			FirstName:   first,
			LastName:    last,
			Company:     company,
			CompanyURL:  companyURL,
			Email:       email,
			Phone:       phone,
			LinkedInURL: linkedIn,
			SourceURL:   pageURL,
		})
	}
	return leads
}

// nameFromLocalPart guesses "jane.doe" as Jane Doe. Role accounts give no
// name.
func nameFromLocalPart(local string) (string, string) {
	if roleLocalParts[local] {
		return "", ""
	}
	parts := strings.FieldsFunc(local, func(r rune) bool { return r == '.' || r == '_' || r == '-' })
	title := func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	}
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return title(parts[0]), ""
	default:
		return title(parts[0]), title(parts[len(parts)-1])
	}
}

// FixtureScraper produces a deterministic batch of contacts for any source.
type FixtureScraper struct{}

var (
	fixtureFirstNames = []string{"Ava", "Liam", "Maya", "Noah", "Zoe", "Ethan", "Iris", "Omar", "Lena", "Kai"}
	fixtureLastNames  = []string{"Carter", "Nguyen", "Patel", "Silva", "Kim", "Novak", "Haddad", "Berg", "Ortiz", "Walsh"}
	fixtureTitles     = []string{"CEO", "CTO", "Head of Sales", "Marketing Director", "Founder", "VP Operations"}
	fixtureCompanies  = []string{"Northwind", "Bluepeak", "Acorn Labs", "Vertex Co", "Lumen Health", "Riverstone"}
	fixtureCities     = []string{"Austin", "Berlin", "Toronto", "Lisbon", "Singapore", "Denver"}
)

const fixtureDefaultResults = 10
const fixtureMaxResults = 50

func (FixtureScraper) Scrape(ctx context.Context, req ScrapeRequest) ([]ScrapedLead, error) {
	n := req.MaxResults
	if n <= 0 {
		n = fixtureDefaultResults
	}
	if n > fixtureMaxResults {
		n = fixtureMaxResults
	}

	h := fnv.New32a()
	h.Write([]byte(string(req.Source) + "|" + req.Query + "|" + strings.Join(req.URLs, ",")))
	seed := int(h.Sum32() % 1000)

	leads := make([]ScrapedLead, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return leads, err
		}
		k := seed + i
		first := fixtureFirstNames[k%len(fixtureFirstNames)]
		last := fixtureLastNames[(k/len(fixtureFirstNames)+i)%len(fixtureLastNames)]
		company := fixtureCompanies[k%len(fixtureCompanies)]
		domain := strings.ToLower(strings.ReplaceAll(company, " ", "")) + ".com"

		lead := ScrapedLead{
			FirstName:  first,
			LastName:   last,
			Title:      fixtureTitles[k%len(fixtureTitles)],
			Company:    company,
			CompanyURL: "https://" + domain,
			Email:      fmt.Sprintf("%s.%s%d@%s", strings.ToLower(first), strings.ToLower(last), k, domain),
			City:       fixtureCities[k%len(fixtureCities)],
			Country:    "US",
			SourceURL:  fmt.Sprintf("fixture://%s/%d", req.Source, k),
		}
		switch req.Source {
		case models.SourceLinkedIn:
			lead.LinkedInURL = fmt.Sprintf("https://www.linkedin.com/in/%s-%s-%d", strings.ToLower(first), strings.ToLower(last), k)
		case models.SourceInstagram:
			lead.InstagramHandle = fmt.Sprintf("@%s.%s", strings.ToLower(first), strings.ToLower(last))
		}
		leads = append(leads, lead)
	}
	return leads, nil
}

// NewScraper returns the web scraper for mode "live", the fixture otherwise.
func NewScraper(mode string) Scraper {
	if mode == "live" {
		return NewWebScraper()
	}
	return FixtureScraper{}
}
