package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"leadforge/models"
)

func TestFixtureVerifier(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier("fixture", "", "")

	tests := []struct {
		email  string
		status models.EmailStatus
		score  int
	}{
		{"jane@gmail.com", models.EmailValid, 85},
		{"jane@acme.io", models.EmailValid, 70},
		{"info@acme.io", models.EmailRisky, 50},
		{"bob@mailinator.com", models.EmailInvalid, 0},
		{"bob@gmai.com", models.EmailInvalid, 0},
		{"not-an-email", models.EmailInvalid, 0},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			res, err := v.Verify(ctx, tt.email)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.score, res.Score)
		})
	}
}

func TestFixtureEnricherIsDeterministic(t *testing.T) {
	e := NewEnricher("fixture", "", "")
	lead := &models.Lead{Email: "jane@acme.io"}

	first, err := e.Enrich(context.Background(), lead)
	require.NoError(t, err)
	second, err := e.Enrich(context.Background(), &models.Lead{Email: "JANE@acme.io"})
	require.NoError(t, err)
	assert.Equal(t, first.Industry, second.Industry)
	assert.Equal(t, first.CompanySize, second.CompanySize)

	_, err = e.Enrich(context.Background(), &models.Lead{})
	assert.ErrorIs(t, err, ErrNothingToEnrich)
}

func TestApplyEnrichmentKeepsExistingValues(t *testing.T) {
	lead := &models.Lead{Industry: "Retail"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ApplyEnrichment(lead, &EnrichmentResult{Industry: "Finance", CompanySize: "11-50", Data: map[string]any{"k": "v"}}, at)

	assert.Equal(t, "Retail", lead.Industry)
	assert.Equal(t, "11-50", lead.CompanySize)
	assert.Equal(t, "v", lead.EnrichmentData["k"])
	assert.Equal(t, at, *lead.EnrichedAt)
}

func TestFixtureScraper(t *testing.T) {
	s := NewScraper("fixture")
	req := ScrapeRequest{Source: models.SourceLinkedIn, Query: "saas founders", MaxResults: 5}

	leads, err := s.Scrape(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, leads, 5)
	assert.NotEmpty(t, leads[0].LinkedInURL)

	again, err := s.Scrape(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, leads, again)

	capped, err := s.Scrape(context.Background(), ScrapeRequest{Source: models.SourceGoogleMaps, MaxResults: 500})
	require.NoError(t, err)
	assert.Len(t, capped, fixtureMaxResults)
}

func TestWebScraperRejectsOtherSources(t *testing.T) {
	_, err := NewWebScraper().Scrape(context.Background(), ScrapeRequest{Source: models.SourceLinkedIn})
	assert.ErrorIs(t, err, ErrSourceUnsupported)
}

func TestExtractContacts(t *testing.T) {
	page := []byte(`<html><head><title>Acme Robotics | Home</title></head><body>
<a href="mailto:jane.doe@acme.io?subject=hi">Jane</a>
<a href="tel:+15550100">Call</a>
<a href="https://www.linkedin.com/company/acme">LinkedIn</a>
<p>Press: info@acme.io, bad@x</p>
</body></html>`)

	leads := extractContacts(page, "https://www.acme.io/contact")
	require.Len(t, leads, 2)

	assert.Equal(t, "jane.doe@acme.io", leads[0].Email)
	assert.Equal(t, "Jane", leads[0].FirstName)
	assert.Equal(t, "Doe", leads[0].LastName)
	assert.Equal(t, "Acme Robotics", leads[0].Company)
	assert.Equal(t, "https://www.acme.io", leads[0].CompanyURL)
	assert.Equal(t, "+15550100", leads[0].Phone)
	assert.Equal(t, "https://www.linkedin.com/company/acme", leads[0].LinkedInURL)

	assert.Equal(t, "info@acme.io", leads[1].Email)
	assert.Empty(t, leads[1].FirstName)
}
