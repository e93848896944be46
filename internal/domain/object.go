// Package domain contains the core entities of the embedded Git object
// database: object identifiers, chunk identifiers, type tags and the ref
// state sum type shared by the object store, reference container and
// repository façade.
package domain

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidObjectID is returned when a byte slice or string cannot be
// parsed as a 20-byte or 40-hex-character object identifier.
var ErrInvalidObjectID = errors.New("domain: invalid object id")

// ObjectID is a Git object identifier: the SHA-1 of a canonical
// (type_num, raw_bytes) pair.
type ObjectID [20]byte

// ZeroObjectID is the all-zero sentinel used by compare-and-swap callers
// to mean "this ref must not currently exist".
var ZeroObjectID ObjectID

// ParseObjectID accepts either a 20-byte binary id or a 40-character
// lowercase hex string and normalizes both to an ObjectID, per the
// glossary's "Object identifier" definition.
func ParseObjectID(b []byte) (ObjectID, error) {
	var id ObjectID
	switch len(b) {
	case 20:
		copy(id[:], b)
		return id, nil
	case 40:
		n, err := hex.Decode(id[:], b)
		if err != nil || n != 20 {
			return ObjectID{}, fmt.Errorf("%w: %q", ErrInvalidObjectID, b)
		}
		return id, nil
	default:
		return ObjectID{}, fmt.Errorf("%w: length %d", ErrInvalidObjectID, len(b))
	}
}

// ParseObjectIDString is ParseObjectID for a hex string argument.
func ParseObjectIDString(s string) (ObjectID, error) {
	return ParseObjectID([]byte(s))
}

// String renders the id as 40 lowercase hex characters.
func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 20-byte form.
func (id ObjectID) Bytes() []byte {
	return id[:]
}

// IsZero reports whether id is the all-zero sentinel.
func (id ObjectID) IsZero() bool {
	return id == ZeroObjectID
}

// HashObject computes the object id for a canonical (type_num, raw_bytes)
// pair the way Git does: SHA-1 of "<type> <len>\0<data>".
func HashObject(t TypeNum, data []byte) ObjectID {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", t.GitName(), len(data))
	h.Write(data)
	var id ObjectID
	copy(id[:], h.Sum(nil))
	return id
}

// ChunkHash is the SHA-256 of a chunk's raw (uncompressed) bytes, used as
// the chunk's content key during deduplication.
type ChunkHash [32]byte

// HashChunk computes the content key for raw chunk bytes.
func HashChunk(raw []byte) ChunkHash {
	return ChunkHash(sha256.Sum256(raw))
}

// String renders the hash as 64 lowercase hex characters.
func (h ChunkHash) String() string {
	return hex.EncodeToString(h[:])
}

// ChunkRowID is a database-assigned, monotonically increasing identifier
// for a stored chunk, valid for the lifetime of the backing file. It is
// never derived from content and is never reused.
type ChunkRowID int64

// TypeNum is the Git object type tag stored alongside every object.
type TypeNum uint8

// Object type tags, fixed by the data model.
const (
	TypeCommit TypeNum = 1
	TypeTree   TypeNum = 2
	TypeBlob   TypeNum = 3
	TypeTag    TypeNum = 4
)

// GitName returns the lowercase Git object type name used in the
// canonical hash preimage ("commit", "tree", "blob", "tag").
func (t TypeNum) GitName() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	default:
		return "unknown"
	}
}

// String implements fmt.Stringer.
func (t TypeNum) String() string {
	return t.GitName()
}

// Valid reports whether t is one of the four defined type tags.
func (t TypeNum) Valid() bool {
	switch t {
	case TypeCommit, TypeTree, TypeBlob, TypeTag:
		return true
	default:
		return false
	}
}

// DictKindFor returns the dictionary kind used when compressing objects
// of this type with zstd, and whether a type-specific dictionary applies
// at all (blobs and tags use no dictionary).
func (t TypeNum) DictKindFor() (DictKind, bool) {
	switch t {
	case TypeCommit:
		return DictCommit, true
	case TypeTree:
		return DictTree, true
	default:
		return "", false
	}
}

// Compression names the codec used to store a blob of bytes.
type Compression string

// Supported compression methods.
const (
	CompressionNone Compression = "none"
	CompressionZlib Compression = "zlib"
	CompressionZstd Compression = "zstd"
)

// Valid reports whether c is a supported compression method.
func (c Compression) Valid() bool {
	switch c {
	case CompressionNone, CompressionZlib, CompressionZstd:
		return true
	default:
		return false
	}
}

// DictKind selects which trained zstd dictionary, if any, applies to a
// piece of data being compressed or decompressed.
type DictKind string

// Defined dictionary kinds. DictLegacy names whatever single dictionary
// predates per-type training; it is read-only going forward.
const (
	DictCommit DictKind = "commit"
	DictTree   DictKind = "tree"
	DictChunk  DictKind = "chunk"
	DictLegacy DictKind = "legacy"
)

// NamedFile path conventions reserved by the data model.
const (
	NamedFileDescription = "description"
	NamedFileConfig      = "config"
	NamedFileDictCommit  = "_zstd_dict_commit"
	NamedFileDictTree    = "_zstd_dict_tree"
	NamedFileDictChunk   = "_zstd_dict_chunk"
	NamedFileDictLegacy  = "_zstd_dict"
)

// Required metadata keys.
const (
	MetaSchemaVersion = "schema_version"
	MetaCompression   = "compression"
)
