package mockservice

import (
	"context"

	"github.com/stretchr/testify/mock"
	"leadforge/models"
	"leadforge/services"
)

type Events struct {
	mock.Mock
}

func (m *Events) ApplyEvent(ctx context.Context, companyID, campaignID, leadID uint, ev models.CampaignEvent) (*services.EventResult, error) {
	args := m.Called(ctx, companyID, campaignID, leadID, ev)
	r, _ := args.Get(0).(*services.EventResult)
	return r, args.Error(1)
}

func (m *Events) ApplyEventByMessageID(ctx context.Context, messageID string, ev models.CampaignEvent) (*services.EventResult, error) {
	args := m.Called(ctx, messageID, ev)
	r, _ := args.Get(0).(*services.EventResult)
	return r, args.Error(1)
}

// Tracker accepts tokens equal to "ok-" + message id.
type Tracker struct{}

func (Tracker) Verify(messageID, token string) bool {
	return token == "ok-"+messageID
}
