package domain

import (
	"encoding/json"
	"fmt"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Manifest media types handled by the publisher.
const (
	MediaTypeManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeManifestV2S2 = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeOCIIndex     = ocispec.MediaTypeImageIndex
	MediaTypeOCIManifest  = ocispec.MediaTypeImageManifest
)

// IsManifestListType reports whether the media type describes a multi-platform list.
func IsManifestListType(mediaType string) bool {
	return mediaType == MediaTypeManifestList || mediaType == MediaTypeOCIIndex
}

// Manifest is a manifest exactly as stored in the registry. It is used where
// the content must be restored byte for byte, such as rollback.
type Manifest struct {
	MediaType string
	Data      []byte
}

// Clone returns a copy that does not share the underlying byte slice.
func (m Manifest) Clone() Manifest {
	data := make([]byte, len(m.Data))
	copy(data, m.Data)
	return Manifest{MediaType: m.MediaType, Data: data}
}

// IsList reports whether the manifest is a manifest list.
func (m Manifest) IsList() bool {
	return IsManifestListType(m.MediaType)
}

// Extra holds JSON members a type does not model explicitly.
// They are written back unchanged when the value is marshaled.
type Extra map[string]json.RawMessage

func (e Extra) clone() Extra {
	if e == nil {
		return nil
	}
	out := make(Extra, len(e))
	for k, v := range e {
		raw := make(json.RawMessage, len(v))
		copy(raw, v)
		out[k] = raw
	}
	return out
}

// Platform identifies the architecture an image was built for.
type Platform struct {
	Architecture string
	OS           string
	Variant      string
	Extra        Extra
}

// PlatformManifest is one architecture-specific entry of a manifest list.
type PlatformManifest struct {
	MediaType string
	Size      int64
	Digest    string
	Platform  Platform
	Extra     Extra
}

// Clone returns a deep copy of the entry.
func (p PlatformManifest) Clone() PlatformManifest {
	p.Extra = p.Extra.clone()
	p.Platform.Extra = p.Platform.Extra.clone()
	return p
}

// ManifestList describes one logical image as a set of per-platform manifests.
type ManifestList struct {
	SchemaVersion int
	MediaType     string
	Manifests     []PlatformManifest
	Extra         Extra
}

// Clone returns a deep copy of the list.
func (l ManifestList) Clone() ManifestList {
	out := ManifestList{
		SchemaVersion: l.SchemaVersion,
		MediaType:     l.MediaType,
		Extra:         l.Extra.clone(),
	}
	if l.Manifests != nil {
		out.Manifests = make([]PlatformManifest, len(l.Manifests))
		for i, m := range l.Manifests {
			out.Manifests[i] = m.Clone()
		}
	}
	return out
}

// Digests returns the digests of all entries, in list order.
func (l ManifestList) Digests() []string {
	digests := make([]string, 0, len(l.Manifests))
	for _, m := range l.Manifests {
		digests = append(digests, m.Digest)
	}
	return digests
}

// Architectures returns the architecture of each entry, in list order.
func (l ManifestList) Architectures() []string {
	archs := make([]string, 0, len(l.Manifests))
	for _, m := range l.Manifests {
		archs = append(archs, m.Platform.Architecture)
	}
	return archs
}

// ParseManifestList decodes a registry manifest into a ManifestList.
// A single-image manifest yields ErrManifestType.
func ParseManifestList(m Manifest) (ManifestList, error) {
	if m.MediaType != "" && !m.IsList() {
		return ManifestList{}, fmt.Errorf("%w: got %s", ErrManifestType, m.MediaType)
	}

	var list ManifestList
	if err := json.Unmarshal(m.Data, &list); err != nil {
		return ManifestList{}, fmt.Errorf("failed to decode manifest list: %w", err)
	}
	if !IsManifestListType(list.MediaType) && list.Manifests == nil {
		return ManifestList{}, fmt.Errorf("%w: no manifests member", ErrManifestType)
	}
	return list, nil
}

// ToManifest encodes the list for upload.
func (l ManifestList) ToManifest() (Manifest, error) {
	data, err := json.MarshalIndent(l, "", "    ")
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to encode manifest list: %w", err)
	}
	mediaType := l.MediaType
	if mediaType == "" {
		mediaType = MediaTypeManifestList
	}
	return Manifest{MediaType: mediaType, Data: data}, nil
}

// MarshalJSON implements json.Marshaler.
func (p Platform) MarshalJSON() ([]byte, error) {
	obj := extraObject(p.Extra)
	if err := setMember(obj, "architecture", p.Architecture, false); err != nil {
		return nil, err
	}
	if err := setMember(obj, "os", p.OS, p.OS == ""); err != nil {
		return nil, err
	}
	if err := setMember(obj, "variant", p.Variant, p.Variant == ""); err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Platform) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = Platform{}
	if err := takeMember(obj, "architecture", &p.Architecture); err != nil {
		return err
	}
	if err := takeMember(obj, "os", &p.OS); err != nil {
		return err
	}
	if err := takeMember(obj, "variant", &p.Variant); err != nil {
		return err
	}
	p.Extra = leftover(obj)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p PlatformManifest) MarshalJSON() ([]byte, error) {
	obj := extraObject(p.Extra)
	if err := setMember(obj, "mediaType", p.MediaType, p.MediaType == ""); err != nil {
		return nil, err
	}
	if err := setMember(obj, "size", p.Size, false); err != nil {
		return nil, err
	}
	if err := setMember(obj, "digest", p.Digest, false); err != nil {
		return nil, err
	}
	if err := setMember(obj, "platform", p.Platform, false); err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PlatformManifest) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = PlatformManifest{}
	if err := takeMember(obj, "mediaType", &p.MediaType); err != nil {
		return err
	}
	if err := takeMember(obj, "size", &p.Size); err != nil {
		return err
	}
	if err := takeMember(obj, "digest", &p.Digest); err != nil {
		return err
	}
	if err := takeMember(obj, "platform", &p.Platform); err != nil {
		return err
	}
	p.Extra = leftover(obj)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (l ManifestList) MarshalJSON() ([]byte, error) {
	obj := extraObject(l.Extra)
	if err := setMember(obj, "schemaVersion", l.SchemaVersion, false); err != nil {
		return nil, err
	}
	if err := setMember(obj, "mediaType", l.MediaType, l.MediaType == ""); err != nil {
		return nil, err
	}
	manifests := l.Manifests
	if manifests == nil {
		manifests = []PlatformManifest{}
	}
	if err := setMember(obj, "manifests", manifests, false); err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *ManifestList) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = ManifestList{}
	if err := takeMember(obj, "schemaVersion", &l.SchemaVersion); err != nil {
		return err
	}
	if err := takeMember(obj, "mediaType", &l.MediaType); err != nil {
		return err
	}
	if err := takeMember(obj, "manifests", &l.Manifests); err != nil {
		return err
	}
	l.Extra = leftover(obj)
	return nil
}

func extraObject(extra Extra) map[string]json.RawMessage {
	obj := make(map[string]json.RawMessage, len(extra)+4)
	for k, v := range extra {
		obj[k] = v
	}
	return obj
}

func setMember(obj map[string]json.RawMessage, key string, value any, omit bool) error {
	if omit {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	obj[key] = raw
	return nil
}

func takeMember(obj map[string]json.RawMessage, key string, dst any) error {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	delete(obj, key)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return nil
}

func leftover(obj map[string]json.RawMessage) Extra {
	if len(obj) == 0 {
		return nil
	}
	return Extra(obj)
}
