package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/quaypush/internal/domain"
)

// MockRepositoryAdmin is a mock implementation of out.RepositoryAdmin.
type MockRepositoryAdmin struct {
	mock.Mock
}

// NewMockRepositoryAdmin creates a mock that asserts its expectations on cleanup.
func NewMockRepositoryAdmin(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockRepositoryAdmin {
	m := &MockRepositoryAdmin{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockRepositoryAdmin) GetRepositoryData(ctx context.Context, repo string) (domain.RepositoryData, error) {
	args := m.Called(ctx, repo)
	return args.Get(0).(domain.RepositoryData), args.Error(1)
}

func (m *MockRepositoryAdmin) DeleteTag(ctx context.Context, repo, tag string) error {
	args := m.Called(ctx, repo, tag)
	return args.Error(0)
}

func (m *MockRepositoryAdmin) DeleteRepository(ctx context.Context, repo string) error {
	args := m.Called(ctx, repo)
	return args.Error(0)
}
