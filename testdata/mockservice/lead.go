package mockservice

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
	"leadforge/models"
	"leadforge/services"
	"leadforge/utils"
)

type Leads struct {
	mock.Mock
}

func (m *Leads) lead(args mock.Arguments) (*models.Lead, error) {
	l, _ := args.Get(0).(*models.Lead)
	return l, args.Error(1)
}

func (m *Leads) importResult(args mock.Arguments) (*services.ImportResult, error) {
	r, _ := args.Get(0).(*services.ImportResult)
	return r, args.Error(1)
}

func (m *Leads) verification(args mock.Arguments) (*models.EmailVerification, error) {
	v, _ := args.Get(0).(*models.EmailVerification)
	return v, args.Error(1)
}

func (m *Leads) Create(ctx context.Context, companyID, userID uint, in services.CreateLeadInput) (*models.Lead, error) {
	return m.lead(m.Called(ctx, companyID, userID, in))
}

func (m *Leads) CreateBatch(ctx context.Context, companyID, userID uint, inputs []services.CreateLeadInput) (*services.ImportResult, error) {
	return m.importResult(m.Called(ctx, companyID, userID, inputs))
}

func (m *Leads) Import(ctx context.Context, companyID, userID uint, r io.Reader, format string) (*services.ImportResult, error) {
	return m.importResult(m.Called(ctx, companyID, userID, r, format))
}

func (m *Leads) Export(ctx context.Context, companyID uint, f services.LeadFilter, format string, w io.Writer) (string, error) {
	args := m.Called(ctx, companyID, f, format, w)
	return args.String(0), args.Error(1)
}

func (m *Leads) List(ctx context.Context, companyID uint, f services.LeadFilter, p utils.Pagination) ([]models.Lead, int64, error) {
	args := m.Called(ctx, companyID, f, p)
	list, _ := args.Get(0).([]models.Lead)
	return list, args.Get(1).(int64), args.Error(2)
}

func (m *Leads) Get(ctx context.Context, companyID, id uint) (*models.Lead, error) {
	return m.lead(m.Called(ctx, companyID, id))
}

func (m *Leads) Update(ctx context.Context, companyID, id uint, in services.UpdateLeadInput) (*models.Lead, error) {
	return m.lead(m.Called(ctx, companyID, id, in))
}

func (m *Leads) Delete(ctx context.Context, companyID, id uint) error {
	return m.Called(ctx, companyID, id).Error(0)
}

func (m *Leads) Enrich(ctx context.Context, companyID, id uint) (*models.Lead, error) {
	return m.lead(m.Called(ctx, companyID, id))
}

func (m *Leads) Verify(ctx context.Context, companyID, id uint) (*utils.VerificationResult, error) {
	args := m.Called(ctx, companyID, id)
	r, _ := args.Get(0).(*utils.VerificationResult)
	return r, args.Error(1)
}

func (m *Leads) StartVerification(ctx context.Context, companyID, userID uint, leadIDs []uint) (*models.EmailVerification, error) {
	return m.verification(m.Called(ctx, companyID, userID, leadIDs))
}

func (m *Leads) GetVerification(ctx context.Context, companyID, id uint) (*models.EmailVerification, error) {
	return m.verification(m.Called(ctx, companyID, id))
}
