package pyxis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/quaypush/internal/adapters/out/httpclient"
	"github.com/bnema/quaypush/internal/domain"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

type fakePyxis struct {
	mu         sync.Mutex
	signatures []domain.SignatureRecord
	filters    []string
	deleted    []string
	uploaded   []domain.SignatureUpload
}

func (f *fakePyxis) router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/signatures", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.filters = append(f.filters, req.URL.Query().Get("filter"))
		page, _ := strconv.Atoi(req.URL.Query().Get("page"))
		size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
		start := min(page*size, len(f.signatures))
		end := min(start+size, len(f.signatures))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":      f.signatures[start:end],
			"page":      page,
			"page_size": size,
			"total":     len(f.signatures),
		})
	}).Methods(http.MethodGet)

	api.HandleFunc("/signatures", func(w http.ResponseWriter, req *http.Request) {
		var sig domain.SignatureUpload
		if err := json.NewDecoder(req.Body).Decode(&sig); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if sig.SigKeyID == "bad" {
			http.Error(w, "invalid key", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.uploaded = append(f.uploaded, sig)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}).Methods(http.MethodPost)

	api.HandleFunc("/signatures/id/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, mux.Vars(req)["id"])
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	api.HandleFunc("/repositories/registry/{registry}/repository/{ns}/{repo}", func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		if vars["repo"] != "repo" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"repository":         vars["ns"] + "/" + vars["repo"],
			"registry":           vars["registry"],
			"release_categories": []string{"Deprecated"},
		})
	}).Methods(http.MethodGet)

	api.HandleFunc("/operators/indices", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("ocp_versions_range") != "v4.6-v4.7" || req.URL.Query().Get("organization") != "redhat" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"ocp_version":"4.6","path":"idx:v4.6"},{"ocp_version":"4.7","path":"idx:v4.7"}]}`))
	}).Methods(http.MethodGet)
	return r
}

func newTestClient(t *testing.T, fake *fakePyxis, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(fake.router())
	t.Cleanup(server.Close)
	opts = append(opts, WithHTTPOptions(httpclient.WithRetryMax(0), httpclient.WithRetryWait(time.Millisecond, time.Millisecond)))
	client, err := NewClient(server.URL, opts...)
	require.NoError(t, err)
	return client
}

func TestClient_QuerySignatures_Paginates(t *testing.T) {
	fake := &fakePyxis{}
	for i := range 5 {
		fake.signatures = append(fake.signatures, domain.SignatureRecord{ID: strconv.Itoa(i), ManifestDigest: "sha256:a"})
	}
	client := newTestClient(t, fake, WithPageSize(2))

	records, err := client.QuerySignatures(testContext(), []string{"sha256:a", "sha256:b"})

	require.NoError(t, err)
	assert.Len(t, records, 5)
	assert.Len(t, fake.filters, 3)
	assert.Equal(t, "manifest_digest=in=(sha256:a,sha256:b)", fake.filters[0])
}

func TestClient_QuerySignatures_NoDigests(t *testing.T) {
	fake := &fakePyxis{}
	client := newTestClient(t, fake)

	records, err := client.QuerySignatures(testContext(), nil)

	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, fake.filters)
}

func TestClient_DeleteSignatures(t *testing.T) {
	fake := &fakePyxis{}
	client := newTestClient(t, fake)

	require.NoError(t, client.DeleteSignatures(testContext(), []string{"id-1", "id-2"}))

	assert.Equal(t, []string{"id-1", "id-2"}, fake.deleted)
}

func TestClient_UploadSignatures(t *testing.T) {
	fake := &fakePyxis{}
	client := newTestClient(t, fake, WithUploadWorkers(2))
	batch := []domain.SignatureUpload{
		{ManifestDigest: "sha256:a", Reference: "registry/ns/repo:1", SigKeyID: "key"},
		{ManifestDigest: "sha256:b", Reference: "registry/ns/repo:1", SigKeyID: "key"},
		{ManifestDigest: "sha256:c", Reference: "registry/ns/repo:1", SigKeyID: "key"},
	}

	require.NoError(t, client.UploadSignatures(testContext(), batch))

	var digests []string
	for _, sig := range fake.uploaded {
		digests = append(digests, sig.ManifestDigest)
	}
	sort.Strings(digests)
	assert.Equal(t, []string{"sha256:a", "sha256:b", "sha256:c"}, digests)
}

func TestClient_UploadSignatures_Failure(t *testing.T) {
	client := newTestClient(t, &fakePyxis{})

	err := client.UploadSignatures(testContext(), []domain.SignatureUpload{{ManifestDigest: "sha256:a", SigKeyID: "bad"}})

	var remoteErr *domain.RemoteServiceError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, http.StatusBadRequest, remoteErr.StatusCode)
}

func TestClient_GetRepositoryMetadata(t *testing.T) {
	client := newTestClient(t, &fakePyxis{}, WithCatalogRegistry("registry.example.com"))

	metadata, err := client.GetRepositoryMetadata(testContext(), "ns/repo")
	require.NoError(t, err)
	assert.Equal(t, "ns/repo", metadata.Repository)
	assert.Equal(t, "registry.example.com", metadata.Registry)
	assert.True(t, metadata.IsDeprecated())

	_, err = client.GetRepositoryMetadata(testContext(), "ns/missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestClient_GetOCPVersions(t *testing.T) {
	client := newTestClient(t, &fakePyxis{})

	versions, err := client.GetOCPVersions(testContext(), "v4.6-v4.7")

	require.NoError(t, err)
	assert.Equal(t, []domain.OCPVersion{{Version: "4.6"}, {Version: "4.7"}}, versions)
}
