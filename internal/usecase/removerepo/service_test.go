package removerepo

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/quaypush/internal/boundaries/out"
	"github.com/bnema/quaypush/internal/boundaries/out/mocks"
	"github.com/bnema/quaypush/internal/domain"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

type fakeReconciler struct {
	calls [][2]string
	err   error
}

func (f *fakeReconciler) ReconcileRepository(_ context.Context, externalRepo, internalRepo string) error {
	f.calls = append(f.calls, [2]string{externalRepo, internalRepo})
	return f.err
}

func notifyingRequest() domain.RemoveRepositoryRequest {
	return domain.RemoveRepositoryRequest{
		Repository: "ns/repo",
		Namespace:  "quay-ns",
		Notify:     true,
		Bus:        domain.BusSettings{URLs: []string{"amqps://umb:5671"}, CertFile: "/etc/cert.pem"},
	}
}

func TestRemoveRepositoryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.RemoveRepositoryRequest)
		wantErr string
	}{
		{"valid", func(*domain.RemoveRepositoryRequest) {}, ""},
		{"too many slashes", func(r *domain.RemoveRepositoryRequest) { r.Repository = "a/b/c" }, "must have format <namespace>/<repo>"},
		{"leading slash", func(r *domain.RemoveRepositoryRequest) { r.Repository = "/repo" }, "must have format <namespace>/<repo>"},
		{"no namespace", func(r *domain.RemoveRepositoryRequest) { r.Repository = "repo" }, "must have format <namespace>/<repo>"},
		{"no urls", func(r *domain.RemoveRepositoryRequest) { r.Bus.URLs = nil }, "UMB URL must be specified"},
		{"no cert", func(r *domain.RemoveRepositoryRequest) { r.Bus.CertFile = "" }, "client certificate"},
		{"no notification needs no bus", func(r *domain.RemoveRepositoryRequest) { r.Notify = false; r.Bus = domain.BusSettings{} }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := notifyingRequest()
			tt.mutate(&req)

			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestService_RemoveRepository(t *testing.T) {
	admin := mocks.NewMockRepositoryAdmin(t)
	publisher := mocks.NewMockMessagePublisher(t)
	reconciler := &fakeReconciler{}
	var gotSettings domain.BusSettings
	factory := func(settings domain.BusSettings) (out.MessagePublisher, error) {
		gotSettings = settings
		return publisher, nil
	}

	admin.On("DeleteRepository", mock.Anything, "quay-ns/ns----repo").Return(nil)
	publisher.On("Publish", mock.Anything, domain.RemoveRepoTopic, map[string]any{"removed_repository": "ns/repo"}).Return(nil)

	err := NewService(admin, reconciler, factory).RemoveRepository(testContext(), notifyingRequest())

	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"ns/repo", "quay-ns/ns----repo"}}, reconciler.calls)
	assert.Equal(t, []string{"amqps://umb:5671"}, gotSettings.URLs)
}

func TestService_RemoveRepository_WithoutNotification(t *testing.T) {
	admin := mocks.NewMockRepositoryAdmin(t)
	factory := func(domain.BusSettings) (out.MessagePublisher, error) {
		t.Fatal("publisher must not be created")
		return nil, nil
	}
	admin.On("DeleteRepository", mock.Anything, "quay-ns/ns----repo").Return(nil)

	err := NewService(admin, &fakeReconciler{}, factory).
		RemoveRepository(testContext(), domain.RemoveRepositoryRequest{Repository: "ns/repo", Namespace: "quay-ns"})

	require.NoError(t, err)
}

func TestService_RemoveRepository_InvalidRequestTouchesNothing(t *testing.T) {
	admin := mocks.NewMockRepositoryAdmin(t)
	reconciler := &fakeReconciler{}

	err := NewService(admin, reconciler, nil).
		RemoveRepository(testContext(), domain.RemoveRepositoryRequest{Repository: "ns/repo/extra", Namespace: "quay-ns"})

	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Empty(t, reconciler.calls)
}

func TestService_RemoveRepository_SignatureFailureKeepsRepository(t *testing.T) {
	admin := mocks.NewMockRepositoryAdmin(t)
	boom := errors.New("pyxis down")

	err := NewService(admin, &fakeReconciler{err: boom}, nil).
		RemoveRepository(testContext(), domain.RemoveRepositoryRequest{Repository: "ns/repo", Namespace: "quay-ns"})

	assert.ErrorIs(t, err, boom)
	admin.AssertNotCalled(t, "DeleteRepository", mock.Anything, mock.Anything)
}

func TestService_RemoveRepository_PublishFailure(t *testing.T) {
	admin := mocks.NewMockRepositoryAdmin(t)
	publisher := mocks.NewMockMessagePublisher(t)
	boom := errors.New("broker unreachable")
	factory := func(domain.BusSettings) (out.MessagePublisher, error) { return publisher, nil }

	admin.On("DeleteRepository", mock.Anything, "quay-ns/ns----repo").Return(nil)
	publisher.On("Publish", mock.Anything, "custom.topic", mock.Anything).Return(boom)
	req := notifyingRequest()
	req.Topic = "custom.topic"

	err := NewService(admin, &fakeReconciler{}, factory).RemoveRepository(testContext(), req)

	assert.ErrorIs(t, err, boom)
}
