package mocktransport

import (
	"context"

	"github.com/stretchr/testify/mock"
	"leadforge/utils"
)

type Transport struct {
	mock.Mock
}

var _ utils.MailTransport = &Transport{}

func (m *Transport) Send(ctx context.Context, email utils.OutboundEmail) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}
