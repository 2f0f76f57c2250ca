package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/quaypush/internal/domain"
)

// MockSignatureStore is a mock implementation of out.SignatureStore.
type MockSignatureStore struct {
	mock.Mock
}

// NewMockSignatureStore creates a mock that asserts its expectations on cleanup.
func NewMockSignatureStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSignatureStore {
	m := &MockSignatureStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSignatureStore) QuerySignatures(ctx context.Context, digests []string) ([]domain.SignatureRecord, error) {
	args := m.Called(ctx, digests)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SignatureRecord), args.Error(1)
}

func (m *MockSignatureStore) DeleteSignatures(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockSignatureStore) UploadSignatures(ctx context.Context, batch []domain.SignatureUpload) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

// MockRepositoryMetadataSource is a mock implementation of out.RepositoryMetadataSource.
type MockRepositoryMetadataSource struct {
	mock.Mock
}

// NewMockRepositoryMetadataSource creates a mock that asserts its expectations on cleanup.
func NewMockRepositoryMetadataSource(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockRepositoryMetadataSource {
	m := &MockRepositoryMetadataSource{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockRepositoryMetadataSource) GetRepositoryMetadata(ctx context.Context, repo string) (domain.RepositoryMetadata, error) {
	args := m.Called(ctx, repo)
	return args.Get(0).(domain.RepositoryMetadata), args.Error(1)
}

// MockOCPVersionResolver is a mock implementation of out.OCPVersionResolver.
type MockOCPVersionResolver struct {
	mock.Mock
}

// NewMockOCPVersionResolver creates a mock that asserts its expectations on cleanup.
func NewMockOCPVersionResolver(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockOCPVersionResolver {
	m := &MockOCPVersionResolver{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockOCPVersionResolver) GetOCPVersions(ctx context.Context, versionsRange string) ([]domain.OCPVersion, error) {
	args := m.Called(ctx, versionsRange)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.OCPVersion), args.Error(1)
}
