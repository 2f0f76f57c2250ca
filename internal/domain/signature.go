package domain

// SignatureRecord is an entry of the signature store binding a digest to a repository.
type SignatureRecord struct {
	ID             string `json:"_id"`
	Repository     string `json:"repository"`
	ManifestDigest string `json:"manifest_digest"`
	Reference      string `json:"reference"`
	SigKeyID       string `json:"sig_key_id"`
}

// ClaimMessage asks the signer to sign one manifest claim.
type ClaimMessage struct {
	SigKeyID        string `json:"sig_key_id"`
	ClaimFile       string `json:"claim_file"`
	TaskID          string `json:"pub_task_id"`
	RequestID       string `json:"request_id"`
	ManifestDigest  string `json:"manifest_digest"`
	Repo            string `json:"repo"`
	ImageName       string `json:"image_name"`
	DockerReference string `json:"docker_reference"`
	Created         string `json:"created"`
}

// claimIdentity is the set of fields that make a claim unique.
type claimIdentity struct {
	SigKeyID, ClaimFile, TaskID, ManifestDigest, Repo, ImageName, DockerReference string
}

// Identity returns a comparable key of the fields that make two claims equivalent.
// RequestID and Created are excluded.
func (c ClaimMessage) Identity() any {
	return claimIdentity{c.SigKeyID, c.ClaimFile, c.TaskID, c.ManifestDigest, c.Repo, c.ImageName, c.DockerReference}
}

// SignedClaim is the signer's reply to a ClaimMessage.
type SignedClaim struct {
	RequestID      string   `json:"request_id"`
	ManifestDigest string   `json:"manifest_digest"`
	SignedClaim    string   `json:"signed_claim"`
	Errors         []string `json:"errors"`
}

// SignatureUpload is one signature as accepted by the signature store.
type SignatureUpload struct {
	ManifestDigest string `json:"manifest_digest"`
	Reference      string `json:"reference"`
	Repository     string `json:"repository"`
	SigKeyID       string `json:"sig_key_id"`
	SignatureData  string `json:"signature_data"`
}

// SignatureKey identifies a signature by reference, digest and key.
type SignatureKey struct {
	Reference      string
	ManifestDigest string
	SigKeyID       string
}
