package signing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bnema/quaypush/internal/domain"
)

type manifestClaim struct {
	Critical claimCritical `json:"critical"`
	Optional claimOptional `json:"optional"`
}

type claimCritical struct {
	Type     string        `json:"type"`
	Image    claimImage    `json:"image"`
	Identity claimIdentity `json:"identity"`
}

type claimImage struct {
	DockerManifestDigest string `json:"docker-manifest-digest"`
}

type claimIdentity struct {
	DockerReference string `json:"docker-reference"`
}

type claimOptional struct {
	Creator string `json:"creator"`
}

// claimParams describes one signature to request.
type claimParams struct {
	destinationRepo string
	signingKey      string
	digest          string
	reference       string
	imageName       string
}

// newClaimMessage builds a signing request for an atomic container signature.
func (s *Service) newClaimMessage(p claimParams) (domain.ClaimMessage, error) {
	claim := manifestClaim{
		Critical: claimCritical{
			Type:     "atomic container signature",
			Image:    claimImage{DockerManifestDigest: p.digest},
			Identity: claimIdentity{DockerReference: p.reference},
		},
		Optional: claimOptional{Creator: s.cfg.Creator},
	}
	data, err := json.Marshal(claim)
	if err != nil {
		return domain.ClaimMessage{}, fmt.Errorf("failed to encode manifest claim: %w", err)
	}

	return domain.ClaimMessage{
		SigKeyID:        p.signingKey,
		ClaimFile:       base64.StdEncoding.EncodeToString(data),
		TaskID:          s.cfg.TaskID,
		RequestID:       s.newID(),
		ManifestDigest:  p.digest,
		Repo:            p.destinationRepo,
		ImageName:       p.imageName,
		DockerReference: p.reference,
		Created:         s.now().UTC().Format("2006-01-02T15:04:05.000000") + "Z",
	}, nil
}

// RemoveDuplicateClaims keeps the first claim of every group of equivalent claims.
func RemoveDuplicateClaims(claims []domain.ClaimMessage) []domain.ClaimMessage {
	seen := make(map[any]struct{}, len(claims))
	unique := make([]domain.ClaimMessage, 0, len(claims))
	for _, claim := range claims {
		key := claim.Identity()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, claim)
	}
	return unique
}

func defaultID() string {
	return uuid.NewString()
}

func defaultNow() time.Time {
	return time.Now()
}
