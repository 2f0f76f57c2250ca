package signatures

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bnema/quaypush/internal/boundaries/out/mocks"
	"github.com/bnema/quaypush/internal/domain"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

func strPtr(s string) *string { return &s }

type fixture struct {
	admin    *mocks.MockRepositoryAdmin
	registry *mocks.MockManifestRegistry
	store    *mocks.MockSignatureStore
	svc      *Service
}

func newFixture(t *testing.T) fixture {
	f := fixture{
		admin:    mocks.NewMockRepositoryAdmin(t),
		registry: mocks.NewMockManifestRegistry(t),
		store:    mocks.NewMockSignatureStore(t),
	}
	f.svc = NewService(f.admin, f.registry, f.store, nil, Config{Host: "quay.io"})
	return f
}

func digestsN(n int) []string {
	digests := make([]string, n)
	for i := range digests {
		digests[i] = fmt.Sprintf("sha256:%03d", i)
	}
	return digests
}

func TestService_RepositoryDigests(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)

	f.admin.On("GetRepositoryData", mock.Anything, "ns/repo").Return(domain.RepositoryData{
		Tags: map[string]domain.TagData{
			"1":      {Name: "1", ManifestDigest: "sha256:single", ImageID: strPtr("img")},
			"latest": {Name: "latest", ManifestDigest: "sha256:list"},
			"2":      {Name: "2", ManifestDigest: "sha256:single", ImageID: strPtr("img")},
		},
	}, nil)
	f.registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:latest").Return(domain.ManifestList{
		Manifests: []domain.PlatformManifest{{Digest: "sha256:arm"}, {Digest: "sha256:amd"}},
	}, nil)

	digests, err := f.svc.RepositoryDigests(ctx, "ns/repo")

	require.NoError(t, err)
	assert.Equal(t, []string{"sha256:amd", "sha256:arm", "sha256:single"}, digests)
}

func TestService_RepositoryDigests_TagListingFails(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)
	boom := errors.New("quay down")
	f.admin.On("GetRepositoryData", mock.Anything, "ns/repo").Return(domain.RepositoryData{}, boom)

	_, err := f.svc.RepositoryDigests(ctx, "ns/repo")

	assert.ErrorIs(t, err, boom)
}

func TestService_FindSignatures_Chunks(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)
	digests := digestsN(120)

	f.store.On("QuerySignatures", mock.Anything, digests[0:50]).Return([]domain.SignatureRecord{{ID: "1"}}, nil).Once()
	f.store.On("QuerySignatures", mock.Anything, digests[50:100]).Return([]domain.SignatureRecord{{ID: "2"}, {ID: "3"}}, nil).Once()
	f.store.On("QuerySignatures", mock.Anything, digests[100:120]).Return([]domain.SignatureRecord{}, nil).Once()

	var ids []string
	for record, err := range f.svc.FindSignatures(ctx, digests, 50) {
		require.NoError(t, err)
		ids = append(ids, record.ID)
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids)
	f.store.AssertNumberOfCalls(t, "QuerySignatures", 3)
}

func TestService_FindSignatures_NoDigests(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)

	count := 0
	for range f.svc.FindSignatures(ctx, nil, 50) {
		count++
	}

	assert.Zero(t, count)
	f.store.AssertNotCalled(t, "QuerySignatures", mock.Anything, mock.Anything)
}

func TestService_FindSignatures_StopsEarly(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)
	digests := digestsN(100)

	f.store.On("QuerySignatures", mock.Anything, digests[0:50]).Return([]domain.SignatureRecord{{ID: "1"}, {ID: "2"}}, nil).Once()

	for record, err := range f.svc.FindSignatures(ctx, digests, 50) {
		require.NoError(t, err)
		if record.ID == "1" {
			break
		}
	}

	f.store.AssertNumberOfCalls(t, "QuerySignatures", 1)
}

func TestService_FindSignatures_QueryError(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)
	boom := errors.New("pyxis down")
	f.store.On("QuerySignatures", mock.Anything, []string{"sha256:a"}).Return(nil, boom)

	var errs []error
	for _, err := range f.svc.FindSignatures(ctx, []string{"sha256:a", "sha256:b"}, 1) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestService_ReconcileRepository(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)

	f.admin.On("GetRepositoryData", mock.Anything, "quay-ns/ns----repo").Return(domain.RepositoryData{
		Tags: map[string]domain.TagData{
			"1": {ManifestDigest: "sha256:a", ImageID: strPtr("img")},
		},
	}, nil)
	f.store.On("QuerySignatures", mock.Anything, []string{"sha256:a"}).Return([]domain.SignatureRecord{
		{ID: "keep-1", Repository: "ns/other", ManifestDigest: "sha256:a"},
		{ID: "drop-1", Repository: "ns/repo", ManifestDigest: "sha256:a"},
		{ID: "keep-2", Repository: "ns/repo-suffix", ManifestDigest: "sha256:a"},
		{ID: "drop-2", Repository: "ns/repo", ManifestDigest: "sha256:a"},
	}, nil)
	f.store.On("DeleteSignatures", mock.Anything, []string{"drop-1", "drop-2"}).Return(nil)

	err := f.svc.ReconcileRepository(ctx, "ns/repo", "quay-ns/ns----repo")

	require.NoError(t, err)
}

func TestService_ReconcileRepository_NothingToDelete(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)

	f.admin.On("GetRepositoryData", mock.Anything, "quay-ns/ns----repo").Return(domain.RepositoryData{
		Tags: map[string]domain.TagData{"1": {ManifestDigest: "sha256:a", ImageID: strPtr("img")}},
	}, nil)
	f.store.On("QuerySignatures", mock.Anything, []string{"sha256:a"}).Return([]domain.SignatureRecord{
		{ID: "keep", Repository: "ns/other"},
	}, nil)

	err := f.svc.ReconcileRepository(ctx, "ns/repo", "quay-ns/ns----repo")

	require.NoError(t, err)
	f.store.AssertNotCalled(t, "DeleteSignatures", mock.Anything, mock.Anything)
}

func TestService_ReconcileRepository_RecordsMetrics(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)
	metrics := &mocks.MockMetricsRecorder{}
	f.svc = NewService(f.admin, f.registry, f.store, metrics, Config{Host: "quay.io", QueryRPS: 100})

	f.admin.On("GetRepositoryData", mock.Anything, "quay-ns/ns----repo").Return(domain.RepositoryData{
		Tags: map[string]domain.TagData{"1": {ManifestDigest: "sha256:a", ImageID: strPtr("img")}},
	}, nil)
	f.store.On("QuerySignatures", mock.Anything, []string{"sha256:a"}).Return([]domain.SignatureRecord{
		{ID: "drop", Repository: "ns/repo"},
	}, nil)
	f.store.On("DeleteSignatures", mock.Anything, []string{"drop"}).Return(nil)
	metrics.On("RecordSignatures", "removed", 1).Return()

	require.NoError(t, f.svc.ReconcileRepository(ctx, "ns/repo", "quay-ns/ns----repo"))
	metrics.AssertExpectations(t)
}

func TestService_ReconcileRepository_RepositoryMissing(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)
	f.admin.On("GetRepositoryData", mock.Anything, "quay-ns/ns----repo").
		Return(domain.RepositoryData{}, &domain.RemoteServiceError{Service: "quay", StatusCode: 404})

	err := f.svc.ReconcileRepository(ctx, "ns/repo", "quay-ns/ns----repo")

	require.NoError(t, err)
	f.store.AssertNotCalled(t, "QuerySignatures", mock.Anything, mock.Anything)
}

func TestService_ReconcileRepository_MissingTagManifest(t *testing.T) {
	ctx := testContext()
	f := newFixture(t)
	f.admin.On("GetRepositoryData", mock.Anything, "quay-ns/ns----repo").Return(domain.RepositoryData{
		Tags: map[string]domain.TagData{
			"1":      {Name: "1", ManifestDigest: "sha256:a", ImageID: strPtr("img")},
			"latest": {Name: "latest", ManifestDigest: "sha256:list"},
		},
	}, nil)
	f.registry.On("GetManifestList", mock.Anything, "quay.io/quay-ns/ns----repo:latest").
		Return(domain.ManifestList{}, &domain.RemoteServiceError{Service: "registry", StatusCode: 404})

	err := f.svc.ReconcileRepository(ctx, "ns/repo", "quay-ns/ns----repo")

	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
	f.store.AssertNotCalled(t, "QuerySignatures", mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "DeleteSignatures", mock.Anything, mock.Anything)
}
