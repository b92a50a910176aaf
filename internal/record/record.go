// Package record defines the signed, immutable membership-change
// events the rest of the engine folds, verifies, and replicates.
package record

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Version is the record wire version this engine reads and writes.
const Version = 1

// Role is the ordered membership role. Comparisons go through Rank so
// the wire form stays a readable string.
type Role string

// Roles, strongest first.
const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
	RoleViewer Role = "VIEWER"
)

// Rank returns the role's position in the hierarchy; higher is
// stronger. Unknown roles rank below VIEWER.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the four defined roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r is at least as strong as other.
func (r Role) AtLeast(other Role) bool {
	return r.Rank() >= other.Rank()
}

// Op identifies the membership mutation a record carries.
type Op string

// Operations.
const (
	OpAdd     Op = "ADD"
	OpRemove  Op = "REMOVE"
	OpSetRole Op = "SET_ROLE"
)

// Issuer identifies who signed a record. PublicKey and Signature are
// opaque to the engine; only the injected Verifier interprets them.
type Issuer struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// Record is a single signed membership-change event. Immutable once
// created; the signature covers the canonical serialization of every
// field except itself.
type Record struct {
	Version     int    `json:"version"`
	ID          string `json:"id"`
	Timestamp   int64  `json:"timestamp"` // unix milliseconds
	Op          Op     `json:"op"`
	TargetUser  string `json:"targetUser"`
	Role        Role   `json:"role,omitempty"`
	WorkspaceID string `json:"workspaceId"`
	Issuer      Issuer `json:"issuer"`
}

// canonicalForm is the deterministically field-ordered serialization
// the signature and the dedup hash are computed over. The signature
// itself is excluded; the signing key is not.
type canonicalForm struct {
	Version         int    `json:"version"`
	ID              string `json:"id"`
	Timestamp       int64  `json:"timestamp"`
	Op              Op     `json:"op"`
	TargetUser      string `json:"targetUser"`
	Role            Role   `json:"role,omitempty"`
	WorkspaceID     string `json:"workspaceId"`
	IssuerPublicKey string `json:"issuerPublicKey"`
}

// CanonicalBytes returns the byte payload signatures are made over.
func (r Record) CanonicalBytes() ([]byte, error) {
	payload, err := json.Marshal(canonicalForm{
		Version:         r.Version,
		ID:              r.ID,
		Timestamp:       r.Timestamp,
		Op:              r.Op,
		TargetUser:      r.TargetUser,
		Role:            r.Role,
		WorkspaceID:     r.WorkspaceID,
		IssuerPublicKey: r.Issuer.PublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("record: canonicalize: %w", err)
	}
	return payload, nil
}

// CanonicalHash returns the BLAKE2b-256 digest of the canonical form,
// hex encoded. Two records with the same hash are the same logical
// operation regardless of which storage key delivered them.
func (r Record) CanonicalHash() (string, error) {
	payload, err := r.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Time returns the record timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// New builds and signs a record for the given mutation. The signer's
// public key is embedded before signing so the signature covers it.
func New(signer Signer, workspaceID string, op Op, targetUser string, role Role, now time.Time) (Record, error) {
	rec := Record{
		Version:     Version,
		ID:          uuid.NewString(),
		Timestamp:   now.UnixMilli(),
		Op:          op,
		TargetUser:  targetUser,
		Role:        role,
		WorkspaceID: workspaceID,
		Issuer:      Issuer{PublicKey: signer.PublicKey()},
	}
	payload, err := rec.CanonicalBytes()
	if err != nil {
		return Record{}, err
	}
	signature, err := signer.Sign(payload)
	if err != nil {
		return Record{}, fmt.Errorf("record: sign: %w", err)
	}
	rec.Issuer.Signature = signature
	return rec, nil
}

// Decode parses a record from its stored JSON form.
func Decode(payload []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("record: decode: %w", err)
	}
	return rec, nil
}

// Encode serializes a record to its stored JSON form.
func (r Record) Encode() ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("record: encode: %w", err)
	}
	return payload, nil
}

// Less orders records by timestamp with the id as the tie break. This
// is the total order every fold uses.
func Less(a, b Record) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return a.ID < b.ID
}

// Sort sorts records in place into fold order.
func Sort(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return Less(records[i], records[j])
	})
}
