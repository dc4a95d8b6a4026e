package daraja

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of Gateway.
type MockClient struct {
	mock.Mock
}

// InitiateSTKPush mocks the InitiateSTKPush method.
func (m *MockClient) InitiateSTKPush(ctx context.Context, request PushRequest) (*STKPushResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*STKPushResponse), args.Error(1)
}

// Configured mocks the Configured method.
func (m *MockClient) Configured() bool {
	args := m.Called()
	return args.Bool(0)
}

// MissingSettings mocks the MissingSettings method.
func (m *MockClient) MissingSettings() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}
