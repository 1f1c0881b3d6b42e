package mockservice

import (
	"context"

	"github.com/stretchr/testify/mock"
	"leadforge/models"
	"leadforge/services"
	"leadforge/utils"
)

type Campaigns struct {
	mock.Mock
}

func (m *Campaigns) campaign(args mock.Arguments) (*models.Campaign, error) {
	c, _ := args.Get(0).(*models.Campaign)
	return c, args.Error(1)
}

func (m *Campaigns) Create(ctx context.Context, companyID, userID uint, in services.CreateCampaignInput) (*models.Campaign, error) {
	return m.campaign(m.Called(ctx, companyID, userID, in))
}

func (m *Campaigns) List(ctx context.Context, companyID uint, status string, p utils.Pagination) ([]models.Campaign, int64, error) {
	args := m.Called(ctx, companyID, status, p)
	list, _ := args.Get(0).([]models.Campaign)
	return list, args.Get(1).(int64), args.Error(2)
}

func (m *Campaigns) Get(ctx context.Context, companyID, id uint) (*services.CampaignDetail, error) {
	args := m.Called(ctx, companyID, id)
	d, _ := args.Get(0).(*services.CampaignDetail)
	return d, args.Error(1)
}

func (m *Campaigns) Update(ctx context.Context, companyID, id uint, in services.UpdateCampaignInput) (*models.Campaign, error) {
	return m.campaign(m.Called(ctx, companyID, id, in))
}

func (m *Campaigns) Delete(ctx context.Context, companyID, id uint) error {
	return m.Called(ctx, companyID, id).Error(0)
}

func (m *Campaigns) Start(ctx context.Context, companyID, id uint) (*models.Campaign, error) {
	return m.campaign(m.Called(ctx, companyID, id))
}

func (m *Campaigns) Pause(ctx context.Context, companyID, id uint) (*models.Campaign, error) {
	return m.campaign(m.Called(ctx, companyID, id))
}

func (m *Campaigns) Resume(ctx context.Context, companyID, id uint) (*models.Campaign, error) {
	return m.campaign(m.Called(ctx, companyID, id))
}

func (m *Campaigns) Cancel(ctx context.Context, companyID, id uint) (*models.Campaign, error) {
	return m.campaign(m.Called(ctx, companyID, id))
}
