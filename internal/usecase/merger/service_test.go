package merger

import (
	"context"
	"encoding/json"
	"errors"
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

func entry(arch, digest string) domain.PlatformManifest {
	return domain.PlatformManifest{
		MediaType: domain.MediaTypeManifestV2S2,
		Size:      529,
		Digest:    digest,
		Platform:  domain.Platform{Architecture: arch, OS: "linux"},
	}
}

func list(entries ...domain.PlatformManifest) domain.ManifestList {
	return domain.ManifestList{
		SchemaVersion: 2,
		MediaType:     domain.MediaTypeManifestList,
		Manifests:     entries,
	}
}

func TestMissingArchitectures(t *testing.T) {
	src := list(entry("amd64", "sha256:a1"), entry("arm64", "sha256:b1"))
	dest := list(
		entry("amd64", "sha256:a0"),
		entry("ppc64le", "sha256:c0"),
		entry("s390x", "sha256:d0"),
		entry("ppc64le", "sha256:c9"),
	)

	missing := MissingArchitectures(testContext(), src, dest)

	require.Len(t, missing, 2)
	assert.Equal(t, "sha256:c0", missing[0].Digest)
	assert.Equal(t, "sha256:d0", missing[1].Digest)
}

func TestMissingArchitectures_NothingMissing(t *testing.T) {
	src := list(entry("amd64", "sha256:a1"), entry("arm64", "sha256:b1"))
	dest := list(entry("arm64", "sha256:b0"))

	assert.Empty(t, MissingArchitectures(testContext(), src, dest))
}

func TestMergeAll_KeepsSourceFirstAndDoesNotMutate(t *testing.T) {
	src := list(entry("amd64", "sha256:a1"))
	src.Extra = domain.Extra{"annotations": json.RawMessage(`{"k":"v"}`)}
	missing := []domain.PlatformManifest{entry("s390x", "sha256:d0")}

	merged := MergeAll(src, missing)

	assert.Equal(t, []string{"amd64", "s390x"}, merged.Architectures())
	assert.Equal(t, src.Extra, merged.Extra)
	assert.Len(t, src.Manifests, 1)

	merged.Manifests[0].Digest = "sha256:changed"
	assert.Equal(t, "sha256:a1", src.Manifests[0].Digest)
}

func TestMergeSelectedArchitectures(t *testing.T) {
	src := list(entry("amd64", "sha256:a1"), entry("arm64", "sha256:b1"), entry("s390x", "sha256:d1"))
	dest := list(entry("ppc64le", "sha256:c0"), entry("amd64", "sha256:a0"), entry("s390x", "sha256:d0"))

	merged := MergeSelectedArchitectures(src, &dest, []string{"amd64", "arm64"})

	assert.Equal(t, []string{"amd64", "arm64", "ppc64le", "s390x"}, merged.Architectures())
	assert.Equal(t, []string{"sha256:a1", "sha256:b1", "sha256:c0", "sha256:d0"}, merged.Digests())
}

func TestMergeSelectedArchitectures_NoDestination(t *testing.T) {
	src := list(entry("amd64", "sha256:a1"), entry("arm64", "sha256:b1"))

	merged := MergeSelectedArchitectures(src, nil, []string{"arm64"})

	assert.Equal(t, []string{"sha256:b1"}, merged.Digests())
	assert.Equal(t, src.MediaType, merged.MediaType)
}

func TestService_MergeManifestLists(t *testing.T) {
	ctx := testContext()
	registry := mocks.NewMockManifestRegistry(t)
	src := list(entry("amd64", "sha256:a1"))
	dest := list(entry("amd64", "sha256:a0"), entry("arm64", "sha256:b0"))

	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:src").Return(src, nil)
	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:dest").Return(dest, nil)
	registry.On("UploadManifest", mock.Anything, mock.MatchedBy(func(m domain.Manifest) bool {
		uploaded, err := domain.ParseManifestList(m)
		return err == nil && assert.ObjectsAreEqual([]string{"sha256:a1", "sha256:b0"}, uploaded.Digests())
	}), "quay.io/ns/repo:dest").Return(nil)

	err := NewService(registry).MergeManifestLists(ctx, "quay.io/ns/repo:src", "quay.io/ns/repo:dest")

	require.NoError(t, err)
}

func TestService_MergeManifestLists_SingleManifestSource(t *testing.T) {
	ctx := testContext()
	registry := mocks.NewMockManifestRegistry(t)
	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:src").
		Return(domain.ManifestList{}, domain.ErrManifestType)

	err := NewService(registry).MergeManifestLists(ctx, "quay.io/ns/repo:src", "quay.io/ns/repo:dest")

	assert.ErrorIs(t, err, domain.ErrManifestType)
	registry.AssertNotCalled(t, "UploadManifest", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_MergeManifestListsSelected_DestinationMissing(t *testing.T) {
	ctx := testContext()
	registry := mocks.NewMockManifestRegistry(t)
	src := list(entry("amd64", "sha256:a1"), entry("arm64", "sha256:b1"))

	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:src").Return(src, nil)
	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:dest").
		Return(domain.ManifestList{}, &domain.RemoteServiceError{StatusCode: 404})

	merged, err := NewService(registry).MergeManifestListsSelected(ctx, "quay.io/ns/repo:src", "quay.io/ns/repo:dest", []string{"amd64"})

	require.NoError(t, err)
	assert.Equal(t, []string{"sha256:a1"}, merged.Digests())
}

func TestService_MergeManifestListsSelected_DestinationError(t *testing.T) {
	ctx := testContext()
	registry := mocks.NewMockManifestRegistry(t)
	boom := errors.New("connection reset")

	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:src").Return(list(entry("amd64", "sha256:a1")), nil)
	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:dest").Return(domain.ManifestList{}, boom)

	_, err := NewService(registry).MergeManifestListsSelected(ctx, "quay.io/ns/repo:src", "quay.io/ns/repo:dest", []string{"amd64"})

	assert.ErrorIs(t, err, boom)
}

func TestService_MergeTag(t *testing.T) {
	ctx := testContext()
	registry := mocks.NewMockManifestRegistry(t)
	src := list(entry("amd64", "sha256:a1"), entry("arm64", "sha256:b1"))
	dest := list(entry("amd64", "sha256:a0"), entry("s390x", "sha256:d0"))

	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:src").Return(src, nil)
	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:dest").Return(dest, nil)
	registry.On("UploadManifest", mock.Anything, mock.MatchedBy(func(m domain.Manifest) bool {
		uploaded, err := domain.ParseManifestList(m)
		return err == nil && assert.ObjectsAreEqual([]string{"sha256:a1", "sha256:d0"}, uploaded.Digests())
	}), "quay.io/ns/repo:dest").Return(nil)

	err := NewService(registry).MergeTag(ctx, "quay.io/ns/repo:src", "quay.io/ns/repo:dest", []string{"amd64"})

	require.NoError(t, err)
}

func TestService_MergeTag_NothingEligible(t *testing.T) {
	ctx := testContext()
	registry := mocks.NewMockManifestRegistry(t)

	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:src").Return(list(entry("amd64", "sha256:a1")), nil)
	registry.On("GetManifestList", mock.Anything, "quay.io/ns/repo:dest").Return(domain.ManifestList{}, domain.ErrNotFound)

	err := NewService(registry).MergeTag(ctx, "quay.io/ns/repo:src", "quay.io/ns/repo:dest", []string{"s390x"})

	assert.ErrorContains(t, err, "no eligible architecture")
	registry.AssertNotCalled(t, "UploadManifest", mock.Anything, mock.Anything, mock.Anything)
}
