package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternalRepoName(t *testing.T) {
	assert.Equal(t, "namespace----repo", InternalRepoName("namespace/repo"))
}

func TestValidateExternalRepo(t *testing.T) {
	tests := []struct {
		repo    string
		wantErr bool
	}{
		{"namespace/repo", false},
		{"repo", true},
		{"a/b/c", true},
		{"/repo", true},
		{"namespace/", true},
	}

	for _, tt := range tests {
		t.Run(tt.repo, func(t *testing.T) {
			err := ValidateExternalRepo(tt.repo)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

const testDigest = "sha256:5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"

func TestParseReference(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		registry   string
		repository string
		identifier string
	}{
		{"by digest", "quay.io/some-namespace/target----repo@" + testDigest, "quay.io", "some-namespace/target----repo", testDigest},
		{"by tag with port", "localhost:5000/ns/repo:v1", "localhost:5000", "ns/repo", "v1"},
		{"tag and digest", "registry.example.com/ns/repo:1.0@" + testDigest, "registry.example.com", "ns/repo", testDigest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseReference(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.registry, ref.Context().RegistryStr())
			assert.Equal(t, tt.repository, ref.Context().RepositoryStr())
			assert.Equal(t, tt.identifier, ref.Identifier())
		})
	}
}

func TestParseReference_Invalid(t *testing.T) {
	for _, ref := range []string{"quay.io/ns/repo", "ns/repo:1", "quay.io/ns/repo@sha256:short"} {
		t.Run(ref, func(t *testing.T) {
			_, err := ParseReference(ref)
			assert.True(t, errors.Is(err, ErrInvalidReference))
		})
	}
}

func TestReferenceTag(t *testing.T) {
	tag, err := ReferenceTag("registry-proxy.example.com/ns/iib:4242")
	require.NoError(t, err)
	assert.Equal(t, "4242", tag)

	_, err = ReferenceTag("registry-proxy.example.com/ns/iib@" + testDigest)
	assert.True(t, errors.Is(err, ErrInvalidReference))
}

func TestBackupMapping_LocatorsSorted(t *testing.T) {
	b := BackupMapping{
		{Repository: "ns/b", Tag: "1"}: {},
		{Repository: "ns/a", Tag: "2"}: {},
		{Repository: "ns/a", Tag: "1"}: {},
	}

	assert.Equal(t, []ImageLocator{
		{Repository: "ns/a", Tag: "1"},
		{Repository: "ns/a", Tag: "2"},
		{Repository: "ns/b", Tag: "1"},
	}, b.Locators())
}

func TestRemoteServiceError_Is(t *testing.T) {
	notFound := &RemoteServiceError{Service: "quay", Method: "GET", URL: "/x", StatusCode: 404}
	serverErr := &RemoteServiceError{Service: "quay", Method: "GET", URL: "/x", StatusCode: 500}

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(serverErr))
	assert.True(t, errors.Is(serverErr, &RemoteServiceError{StatusCode: 500}))
	assert.Contains(t, serverErr.Error(), "returned 500")
}
