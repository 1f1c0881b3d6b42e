package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"leadforge/models"
)

// EnrichmentResult carries firmographic data about a lead.
type EnrichmentResult struct {
	Title          string         `json:"title"`
	CompanySize    string         `json:"company_size"`
	CompanyRevenue string         `json:"company_revenue"`
	Industry       string         `json:"industry"`
	FundingStatus  string         `json:"funding_status"`
	City           string         `json:"city"`
	Country        string         `json:"country"`
	LinkedInURL    string         `json:"linkedin_url"`
	TechStack      []string       `json:"tech_stack"`
	Data           map[string]any `json:"data"`
}

// Enricher looks up additional data for a lead.
type Enricher interface {
	Enrich(ctx context.Context, lead *models.Lead) (*EnrichmentResult, error)
}

var ErrNothingToEnrich = errors.New("lead has neither email nor company url")

// HTTPEnricher calls a JSON enrichment API:
// GET {base}?email=...&domain=... with a bearer key.
type HTTPEnricher struct {
	client  *fasthttp.Client
	baseURL string
	apiKey  string
	timeout time.Duration
}

func NewHTTPEnricher(baseURL, apiKey string) *HTTPEnricher {
	return &HTTPEnricher{
		client:  &fasthttp.Client{Name: "leadforge-enricher", MaxConnsPerHost: 16},
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: 10 * time.Second,
	}
}

func (e *HTTPEnricher) Enrich(ctx context.Context, lead *models.Lead) (*EnrichmentResult, error) {
	domain := ExtractDomain(lead.Email)
	if lead.CompanyURL != "" {
		if u, err := url.Parse(lead.CompanyURL); err == nil && u.Host != "" {
			domain = strings.TrimPrefix(u.Host, "www.")
		}
	}
	if lead.Email == "" && domain == "" {
		return nil, ErrNothingToEnrich
	}

	query := url.Values{}
	if lead.Email != "" {
		query.Set("email", lead.Email)
	}
	if domain != "" {
		query.Set("domain", domain)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(e.baseURL + "?" + query.Encode())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := e.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("enrichment request failed: %w", err)
	}
	if resp.StatusCode() == fasthttp.StatusNotFound {
		return &EnrichmentResult{}, nil
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("enrichment provider returned %d", resp.StatusCode())
	}

	var result EnrichmentResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode enrichment response: %w", err)
	}
	return &result, nil
}

// FixtureEnricher derives stable pseudo data from the lead's email.
type FixtureEnricher struct{}

var (
	fixtureSizes      = []string{"1-10", "11-50", "51-200", "201-500", "501-1000", "1000+"}
	fixtureIndustries = []string{"Technology", "Healthcare", "Finance", "Retail", "Manufacturing", "Education", "Marketing"}
	fixtureRevenues   = []string{"<$1M", "$1M-$10M", "$10M-$50M", "$50M-$100M", "$100M+"}
	fixtureFunding    = []string{"bootstrapped", "seed", "series_a", "series_b", "public"}
	fixtureTech       = []string{"Salesforce", "HubSpot", "Shopify", "AWS", "Stripe", "Segment", "Intercom"}
)

func (FixtureEnricher) Enrich(ctx context.Context, lead *models.Lead) (*EnrichmentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := lead.Email
	if key == "" {
		key = lead.CompanyURL
	}
	if key == "" {
		return nil, ErrNothingToEnrich
	}

	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(key)))
	n := int(h.Sum32())

	return &EnrichmentResult{
		CompanySize:    fixtureSizes[n%len(fixtureSizes)],
		Industry:       fixtureIndustries[n%len(fixtureIndustries)],
		CompanyRevenue: fixtureRevenues[n%len(fixtureRevenues)],
		FundingStatus:  fixtureFunding[n%len(fixtureFunding)],
		TechStack:      []string{fixtureTech[n%len(fixtureTech)], fixtureTech[(n/7)%len(fixtureTech)]},
		Data:           map[string]any{"provider": "fixture", "domain": ExtractDomain(lead.Email)},
	}, nil
}

// ApplyEnrichment fills the lead's empty fields from the result.
func ApplyEnrichment(lead *models.Lead, result *EnrichmentResult, at time.Time) {
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
		}
	}
	fill(&lead.Title, result.Title)
	fill(&lead.CompanySize, result.CompanySize)
	fill(&lead.CompanyRevenue, result.CompanyRevenue)
	fill(&lead.Industry, result.Industry)
	fill(&lead.FundingStatus, result.FundingStatus)
	fill(&lead.City, result.City)
	fill(&lead.Country, result.Country)
	fill(&lead.LinkedInURL, result.LinkedInURL)
	if len(lead.TechStack) == 0 && len(result.TechStack) > 0 {
		lead.TechStack = result.TechStack
	}
	if len(result.Data) > 0 {
		if lead.EnrichmentData == nil {
			lead.EnrichmentData = map[string]any{}
		}
		for k, v := range result.Data {
			lead.EnrichmentData[k] = v
		}
	}
	lead.EnrichedAt = &at
}

// NewEnricher returns the HTTP enricher for mode "live", the fixture
// otherwise.
func NewEnricher(mode, baseURL, apiKey string) Enricher {
	if mode == "live" && baseURL != "" {
		return NewHTTPEnricher(baseURL, apiKey)
	}
	return FixtureEnricher{}
}
