package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/quaypush/internal/domain"
)

// MockMessagePublisher is a mock implementation of out.MessagePublisher.
type MockMessagePublisher struct {
	mock.Mock
}

// NewMockMessagePublisher creates a mock that asserts its expectations on cleanup.
func NewMockMessagePublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockMessagePublisher {
	m := &MockMessagePublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockMessagePublisher) Publish(ctx context.Context, topic string, properties map[string]any) error {
	args := m.Called(ctx, topic, properties)
	return args.Error(0)
}

// MockClaimSigner is a mock implementation of out.ClaimSigner.
type MockClaimSigner struct {
	mock.Mock
}

// NewMockClaimSigner creates a mock that asserts its expectations on cleanup.
func NewMockClaimSigner(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClaimSigner {
	m := &MockClaimSigner{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockClaimSigner) SignClaims(ctx context.Context, claims []domain.ClaimMessage) ([]domain.SignedClaim, error) {
	args := m.Called(ctx, claims)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SignedClaim), args.Error(1)
}
