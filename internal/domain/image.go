package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// internalRepoSeparator replaces "/" when an external repository name is
// flattened into a single Quay repository.
const internalRepoSeparator = "----"

// InternalRepoName converts an external repository name (namespace/repo)
// into the name used inside the Quay organization (namespace----repo).
func InternalRepoName(external string) string {
	return strings.ReplaceAll(external, "/", internalRepoSeparator)
}

// ValidateExternalRepo checks that a repository has the <namespace>/<repo> form.
func ValidateExternalRepo(repository string) error {
	if strings.Count(repository, "/") != 1 || strings.HasPrefix(repository, "/") || strings.HasSuffix(repository, "/") {
		return fmt.Errorf("%w: repository %q must have format <namespace>/<repo>", ErrInvalidConfiguration, repository)
	}
	return nil
}

// ImageLocator identifies one tag of one repository.
// It is comparable and used as a map key.
type ImageLocator struct {
	Repository string
	Tag        string
}

// String renders the locator as repo:tag.
func (l ImageLocator) String() string {
	return l.Repository + ":" + l.Tag
}

// Reference renders the locator as a pullable reference on host.
func (l ImageLocator) Reference(host string) string {
	return host + "/" + l.Repository + ":" + l.Tag
}

// BackupMapping records the manifest found at each tag before a publish run.
type BackupMapping map[ImageLocator]Manifest

// Locators returns the keys sorted by repository, then tag.
func (b BackupMapping) Locators() []ImageLocator {
	locators := make([]ImageLocator, 0, len(b))
	for l := range b {
		locators = append(locators, l)
	}
	SortLocators(locators)
	return locators
}

// RollbackSet lists tags that a publish run creates and must delete on failure.
type RollbackSet []ImageLocator

// SortLocators orders locators by repository, then tag.
func SortLocators(locators []ImageLocator) {
	sort.Slice(locators, func(i, j int) bool {
		if locators[i].Repository != locators[j].Repository {
			return locators[i].Repository < locators[j].Repository
		}
		return locators[i].Tag < locators[j].Tag
	})
}

// ParseReference parses an image reference that names its registry and
// either a tag or a digest, such as host/ns/repo:tag, host/ns/repo@digest
// or host/ns/repo:tag@digest.
func ParseReference(ref string) (name.Reference, error) {
	parsed, err := name.ParseReference(ref, name.StrictValidation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return parsed, nil
}

// ReferenceTag returns the tag of a tagged reference.
func ReferenceTag(ref string) (string, error) {
	parsed, err := ParseReference(ref)
	if err != nil {
		return "", err
	}
	tag, ok := parsed.(name.Tag)
	if !ok {
		return "", fmt.Errorf("%w: %q is not addressed by tag", ErrInvalidReference, ref)
	}
	return tag.TagStr(), nil
}
