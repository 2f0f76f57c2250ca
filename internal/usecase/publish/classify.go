package publish

import (
	"github.com/bnema/quaypush/internal/domain"
)

// ContainerItems returns the docker push items. An item carrying errors
// fails the whole run, whatever its type.
func ContainerItems(items []domain.PushItem) ([]domain.PushItem, error) {
	var containers []domain.PushItem
	for _, item := range items {
		if item.HasErrors() {
			return nil, &domain.BadPushItemError{Item: item.String(), Reason: "contains errors"}
		}
		if item.FileType != domain.FileTypeDocker {
			continue
		}
		if item.SourceRef() == "" {
			return nil, &domain.BadPushItemError{Item: item.String(), Reason: "doesn't contain pull data"}
		}
		containers = append(containers, item)
	}
	return containers, nil
}

// OperatorItems returns the operator push items handled by the index
// workflow. App registry items are skipped.
func OperatorItems(items []domain.PushItem) ([]domain.PushItem, error) {
	var operators []domain.PushItem
	for _, item := range items {
		if item.HasErrors() {
			return nil, &domain.BadPushItemError{Item: item.String(), Reason: "contains errors"}
		}
		if item.FileType != domain.FileTypeOperator {
			continue
		}

		switch item.Metadata.OpType {
		case "":
			return nil, &domain.BadPushItemError{Item: item.String(), Reason: "doesn't contain 'op_type'"}
		case domain.OpTypeAppRegistry:
			continue
		case domain.OpTypeUpgrade, domain.OpTypeReplaces:
		default:
			return nil, &domain.BadPushItemError{Item: item.String(), Reason: "has unknown op_type"}
		}

		if item.Metadata.OCPVersions == "" {
			return nil, &domain.BadPushItemError{Item: item.String(), Reason: "should specify 'com.redhat.openshift.versions'"}
		}
		operators = append(operators, item)
	}
	return operators, nil
}

// FilterUnrelatedRepos drops the destinations of each item that are not among
// the repositories the item is allowed to publish to. Items without a
// repository allowlist are returned as-is. The input items are not modified.
func FilterUnrelatedRepos(items []domain.PushItem) []domain.PushItem {
	filtered := make([]domain.PushItem, 0, len(items))
	for _, item := range items {
		if len(item.Repos) == 0 {
			filtered = append(filtered, item)
			continue
		}

		allowed := make(map[string]struct{}, len(item.Repos))
		for _, repo := range item.Repos {
			allowed[repo] = struct{}{}
		}
		tags := make(map[string][]string, len(item.Metadata.Tags))
		for repo, repoTags := range item.Metadata.Tags {
			if _, ok := allowed[repo]; ok {
				tags[repo] = append([]string(nil), repoTags...)
			}
		}
		item.Metadata.Tags = tags
		filtered = append(filtered, item)
	}
	return filtered
}

// ExternalRepos returns the distinct destination repositories of items, sorted.
func ExternalRepos(items []domain.PushItem) []string {
	set := make(map[string]struct{})
	for _, item := range items {
		for _, repo := range item.DestinationRepos() {
			set[repo] = struct{}{}
		}
	}
	return sortedSet(set)
}
