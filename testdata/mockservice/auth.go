package mockservice

import (
	"context"

	"github.com/stretchr/testify/mock"
	"leadforge/models"
)

type Authenticator struct {
	mock.Mock
}

func (m *Authenticator) Authenticate(ctx context.Context, accessToken string) (*models.Identity, error) {
	args := m.Called(ctx, accessToken)
	id, _ := args.Get(0).(*models.Identity)
	return id, args.Error(1)
}
