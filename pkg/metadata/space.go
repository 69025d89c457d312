package metadata

import (
	"strings"
)

// SpaceKind selects per-space policies.
type SpaceKind string

const (
	// SpaceKindFiles is a general document space.
	SpaceKindFiles SpaceKind = "files"

	// SpaceKindMedia is a photos/videos space; uploads whose content hash
	// already belongs to an active media file are rejected.
	SpaceKindMedia SpaceKind = "media"
)

// Space identifies one tenant's storage space. All per-space entities share
// the space partition "<tenantId>#<spaceId>".
type Space struct {
	TenantID string    `json:"tenant_id"`
	SpaceID  string    `json:"space_id"`
	Kind     SpaceKind `json:"kind,omitempty"`
}

// Partition returns the store partition of the space.
func (s Space) Partition() string {
	return s.TenantID + partitionDelimiter + s.SpaceID
}

func (s Space) String() string {
	return s.Partition()
}

// DedupsMedia reports whether uploads into the space are deduplicated.
func (s Space) DedupsMedia() bool {
	return s.Kind == SpaceKindMedia
}

// Validate rejects identifiers that would break the partition encoding.
func (s Space) Validate() error {
	for field, v := range map[string]string{"tenant id": s.TenantID, "space id": s.SpaceID} {
		if v == "" {
			return NewInvalidArgumentError("empty %s", field)
		}
		if strings.ContainsAny(v, partitionDelimiter+"\x00/") {
			return NewInvalidArgumentError("%s %q contains a reserved character", field, v)
		}
	}
	return nil
}

// ParsePartition splits a space partition back into tenant and space ids.
func ParsePartition(partition string) (Space, error) {
	tenant, space, ok := strings.Cut(partition, partitionDelimiter)
	if !ok || tenant == "" || space == "" {
		return Space{}, NewInvalidArgumentError("malformed partition %q", partition)
	}
	return Space{TenantID: tenant, SpaceID: space}, nil
}
