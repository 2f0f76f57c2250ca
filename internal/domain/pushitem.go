package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Push item file types.
const (
	FileTypeDocker   = "docker"
	FileTypeOperator = "operator"
)

// Operator operation types.
const (
	OpTypeAppRegistry = "appregistry"
	OpTypeUpgrade     = "upgrade"
	OpTypeReplaces    = "replaces"
)

// PushItem describes one image or operator bundle handed to the publisher.
type PushItem struct {
	Name             string            `json:"name"`
	FileType         string            `json:"file_type"`
	Errors           map[string]string `json:"errors,omitempty"`
	Repos            []string          `json:"repos,omitempty"`
	ClaimsSigningKey string            `json:"claims_signing_key,omitempty"`
	Metadata         PushItemMetadata  `json:"metadata"`
}

// PullData locates the source image of a push item.
type PullData struct {
	Registry   string `json:"registry"`
	Repository string `json:"repo"`
	Tag        string `json:"tag,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// BuildInfo identifies the build that produced a push item.
type BuildInfo struct {
	BuildID int `json:"build_id"`
}

// PushItemMetadata carries the publish-relevant metadata of a push item.
type PushItemMetadata struct {
	PullURL     string              `json:"pull_url,omitempty"`
	PullData    *PullData           `json:"pull_data,omitempty"`
	Tags        map[string][]string `json:"tags,omitempty"`
	OpType      string              `json:"op_type,omitempty"`
	OCPVersions string              `json:"com.redhat.openshift.versions,omitempty"`
	Arch        string              `json:"arch,omitempty"`
	VR          string              `json:"v_r,omitempty"`
	Build       BuildInfo           `json:"build,omitempty"`
}

// HasErrors reports whether the item was marked as failed upstream.
func (p PushItem) HasErrors() bool {
	return len(p.Errors) > 0
}

// String identifies the item in logs and errors.
func (p PushItem) String() string {
	return p.Name
}

// DestinationRepos returns the external repositories the item is tagged into, sorted.
func (p PushItem) DestinationRepos() []string {
	repos := make([]string, 0, len(p.Metadata.Tags))
	for repo := range p.Metadata.Tags {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	return repos
}

// SourceRef returns the reference the item's image is pulled from.
func (p PushItem) SourceRef() string {
	if p.Metadata.PullURL != "" {
		return p.Metadata.PullURL
	}
	d := p.Metadata.PullData
	if d == nil {
		return ""
	}
	if d.Digest != "" {
		return d.Registry + "/" + d.Repository + "@" + d.Digest
	}
	return d.Registry + "/" + d.Repository + ":" + d.Tag
}

// LoadPushItems reads a JSON array of push items from path.
func LoadPushItems(path string) ([]PushItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read push items: %w", err)
	}
	var items []PushItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode push items: %w", err)
	}
	return items, nil
}
