package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/quaypush/internal/domain"
)

// MockIndexBuilder is a mock implementation of out.IndexBuilder.
type MockIndexBuilder struct {
	mock.Mock
}

// NewMockIndexBuilder creates a mock that asserts its expectations on cleanup.
func NewMockIndexBuilder(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockIndexBuilder {
	m := &MockIndexBuilder{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockIndexBuilder) AddBundles(ctx context.Context, req domain.AddBundlesRequest) (domain.IndexBuild, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.IndexBuild), args.Error(1)
}

func (m *MockIndexBuilder) RemoveOperators(ctx context.Context, req domain.RemoveOperatorsRequest) (domain.IndexBuild, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.IndexBuild), args.Error(1)
}

func (m *MockIndexBuilder) BuildFromScratch(ctx context.Context, req domain.BuildFromScratchRequest) (domain.IndexBuild, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.IndexBuild), args.Error(1)
}

// MockDeprecationListSource is a mock implementation of out.DeprecationListSource.
type MockDeprecationListSource struct {
	mock.Mock
}

// NewMockDeprecationListSource creates a mock that asserts its expectations on cleanup.
func NewMockDeprecationListSource(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDeprecationListSource {
	m := &MockDeprecationListSource{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockDeprecationListSource) GetDeprecationList(ctx context.Context, version string) (map[string][]string, error) {
	args := m.Called(ctx, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string][]string), args.Error(1)
}
