package domain

// AddBundlesRequest asks the index builder to add bundles to an index image.
type AddBundlesRequest struct {
	IndexImage      string
	Bundles         []string
	Archs           []string
	DeprecationList []string
	Overwrite       bool
	OverwriteToken  string
}

// RemoveOperatorsRequest asks the index builder to drop operator packages
// from an index image.
type RemoveOperatorsRequest struct {
	IndexImage     string
	Operators      []string
	Archs          []string
	Overwrite      bool
	OverwriteToken string
}

// BuildFromScratchRequest asks the index builder for an index image holding
// only the given bundles.
type BuildFromScratchRequest struct {
	Bundles []string
	Archs   []string
}

// IndexBuild is the outcome of an index image build.
type IndexBuild struct {
	ID    int    `json:"id"`
	State string `json:"state"`
	// IndexImage is the tagged index image the build was requested against.
	IndexImage string `json:"index_image"`
	// IndexImageResolved points to the intermediate image by digest.
	IndexImageResolved string `json:"index_image_resolved"`
	StateReason        string `json:"state_reason"`
}

// VersionBuild pairs a built index image with the keys used to sign it.
type VersionBuild struct {
	Version     string
	Build       IndexBuild
	SigningKeys []string
}

// OCPVersion is one OpenShift version an operator bundle targets.
type OCPVersion struct {
	Version string `json:"ocp_version"`
}
