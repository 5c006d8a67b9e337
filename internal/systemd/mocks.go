package systemd

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of Client for testing.
type MockClient struct {
	mock.Mock
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Reload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) StartUnit(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockClient) StopUnit(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockClient) RestartUnit(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockClient) EnableUnit(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockClient) DisableUnit(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockClient) Close() {
	m.Called()
}
