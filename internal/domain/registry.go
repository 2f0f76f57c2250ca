package domain

import (
	"fmt"
	"sort"
)

// TagData is the state of one tag as reported by the Quay REST API.
// ImageID is nil when the tag references a manifest list.
type TagData struct {
	Name           string  `json:"name"`
	ManifestDigest string  `json:"manifest_digest"`
	ImageID        *string `json:"image_id"`
}

// IsManifestList reports whether the tag references a manifest list.
func (t TagData) IsManifestList() bool {
	return t.ImageID == nil
}

// RepositoryData describes a Quay repository and its tags.
type RepositoryData struct {
	Namespace string             `json:"namespace"`
	Name      string             `json:"name"`
	Tags      map[string]TagData `json:"tags"`
}

// TagNames returns the tag names sorted.
func (r RepositoryData) TagNames() []string {
	names := make([]string, 0, len(r.Tags))
	for name := range r.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReleaseCategoryDeprecated marks a repository that no longer accepts content.
const ReleaseCategoryDeprecated = "Deprecated"

// RepositoryMetadata is the catalog record of an external repository.
type RepositoryMetadata struct {
	Repository        string   `json:"repository"`
	Registry          string   `json:"registry"`
	ReleaseCategories []string `json:"release_categories"`
}

// IsDeprecated reports whether the repository is marked deprecated.
func (m RepositoryMetadata) IsDeprecated() bool {
	for _, c := range m.ReleaseCategories {
		if c == ReleaseCategoryDeprecated {
			return true
		}
	}
	return false
}

// RemoveRepoTopic is the topic repository removals are announced on.
const RemoveRepoTopic = "VirtualTopic.eng.pub.quay_remove_repository"

// BusSettings locates and authenticates against the message bus brokers.
type BusSettings struct {
	URLs     []string
	CertFile string
	KeyFile  string
	CAFile   string
}

// RemoveRepositoryRequest describes a repository removal.
type RemoveRepositoryRequest struct {
	// Repository is the external name, <namespace>/<repo>.
	Repository string
	// Namespace is the Quay organization holding the internal repository.
	Namespace string
	// Notify announces the removal on the message bus.
	Notify bool
	Bus    BusSettings
	Topic  string
}

// Validate checks the request before anything is removed.
func (r RemoveRepositoryRequest) Validate() error {
	if err := ValidateExternalRepo(r.Repository); err != nil {
		return err
	}
	if r.Namespace == "" {
		return fmt.Errorf("%w: namespace must be specified", ErrInvalidConfiguration)
	}
	if !r.Notify {
		return nil
	}
	if len(r.Bus.URLs) == 0 {
		return fmt.Errorf("%w: UMB URL must be specified if sending a UMB message was requested", ErrInvalidConfiguration)
	}
	if r.Bus.CertFile == "" {
		return fmt.Errorf("%w: a path to a client certificate must be provided when sending a UMB message", ErrInvalidConfiguration)
	}
	return nil
}
