package persistence

import (
	"context"

	"github.com/chatterstack/chatterhub/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateMessage(ctx context.Context, roomId, userId, content string) (types.Message, error) {
	args := m.Called(ctx, roomId, userId, content)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockStore) UpdateMessage(ctx context.Context, roomId, messageId, userId, content string) (types.Message, error) {
	args := m.Called(ctx, roomId, messageId, userId, content)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockStore) DeleteMessage(ctx context.Context, roomId, messageId, userId string) error {
	args := m.Called(ctx, roomId, messageId, userId)
	return args.Error(0)
}

func (m *MockStore) GetRoomMembers(ctx context.Context, roomId string) ([]string, error) {
	args := m.Called(ctx, roomId)
	if members, ok := args.Get(0).([]string); ok {
		return members, args.Error(1)
	}
	return nil, args.Error(1)
}
