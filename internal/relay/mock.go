package relay

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) Publish(ctx context.Context, env *Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func (m *MockRelay) Run(ctx context.Context, handler Handler) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockRelay) Close() error {
	args := m.Called()
	return args.Error(0)
}
