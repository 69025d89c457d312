package metadata

import (
	"encoding/json"
	"fmt"
)

// RecordType tags the stored JSON envelope of each entity.
type RecordType string

const (
	RecordFolder    RecordType = "folder"
	RecordFile      RecordType = "file"
	RecordEntry     RecordType = "entry"
	RecordPurgeDue  RecordType = "purge_due"
	RecordMediaHash RecordType = "media_hash"
	RecordThumbnail RecordType = "thumbnail"
	RecordUsage     RecordType = "usage"
)

// Record is implemented by every stored entity. Values read from the store
// are decoded into exactly one of these types at the boundary; nothing above
// the repositories handles untyped maps.
type Record interface {
	RecordType() RecordType
}

func (*FolderNode) RecordType() RecordType        { return RecordFolder }
func (*FileNode) RecordType() RecordType          { return RecordFile }
func (*DirectoryEntry) RecordType() RecordType    { return RecordEntry }
func (*PurgeDueEntry) RecordType() RecordType     { return RecordPurgeDue }
func (*MediaHashEntry) RecordType() RecordType    { return RecordMediaHash }
func (*ThumbnailMetadata) RecordType() RecordType { return RecordThumbnail }
func (*SpaceUsage) RecordType() RecordType        { return RecordUsage }

type envelope struct {
	Type RecordType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes a record into its tagged envelope.
func Encode(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", r.RecordType(), err)
	}
	out, err := json.Marshal(envelope{Type: r.RecordType(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", r.RecordType(), err)
	}
	return out, nil
}

// MustEncode is Encode for records that cannot fail to marshal (all entity
// structs are plain data). It panics on error.
func MustEncode(r Record) []byte {
	data, err := Encode(r)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses a stored value into its concrete record type.
func Decode(raw []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, corrupt("envelope", err)
	}

	var r Record
	switch env.Type {
	case RecordFolder:
		r = &FolderNode{}
	case RecordFile:
		r = &FileNode{}
	case RecordEntry:
		r = &DirectoryEntry{}
	case RecordPurgeDue:
		r = &PurgeDueEntry{}
	case RecordMediaHash:
		r = &MediaHashEntry{}
	case RecordThumbnail:
		r = &ThumbnailMetadata{}
	case RecordUsage:
		r = &SpaceUsage{}
	default:
		return nil, corrupt(string(env.Type), fmt.Errorf("unknown record type"))
	}

	if err := json.Unmarshal(env.Data, r); err != nil {
		return nil, corrupt(string(env.Type), err)
	}
	return r, nil
}

// DecodeAs decodes raw and asserts the record type.
func DecodeAs[T Record](raw []byte) (T, error) {
	var zero T
	r, err := Decode(raw)
	if err != nil {
		return zero, err
	}
	typed, ok := r.(T)
	if !ok {
		return zero, corrupt(string(r.RecordType()), fmt.Errorf("unexpected record type %T", r))
	}
	return typed, nil
}

func corrupt(what string, err error) *StoreError {
	return &StoreError{
		Code:    ErrCorruptRecord,
		Message: fmt.Sprintf("failed to decode %s record: %v", what, err),
	}
}
