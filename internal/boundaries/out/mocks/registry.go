package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/quaypush/internal/domain"
)

// MockManifestRegistry is a mock implementation of out.ManifestRegistry.
type MockManifestRegistry struct {
	mock.Mock
}

// NewMockManifestRegistry creates a mock that asserts its expectations on cleanup.
func NewMockManifestRegistry(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockManifestRegistry {
	m := &MockManifestRegistry{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockManifestRegistry) GetManifest(ctx context.Context, ref string) (domain.Manifest, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(domain.Manifest), args.Error(1)
}

func (m *MockManifestRegistry) GetManifestList(ctx context.Context, ref string) (domain.ManifestList, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(domain.ManifestList), args.Error(1)
}

func (m *MockManifestRegistry) UploadManifest(ctx context.Context, manifest domain.Manifest, ref string) error {
	args := m.Called(ctx, manifest, ref)
	return args.Error(0)
}

func (m *MockManifestRegistry) CopyImage(ctx context.Context, src, dest string) error {
	args := m.Called(ctx, src, dest)
	return args.Error(0)
}
