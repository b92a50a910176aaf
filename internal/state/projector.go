// Package state folds a record log into the current membership
// snapshot. The fold is a pure function: same records in, same
// snapshot out, regardless of arrival order.
package state

import (
	"errors"
	"sort"
	"time"

	"github.com/odyssey-erp/quorum/internal/record"
)

// ErrLastOwner is returned by callers that pre-check mutations; the
// projector itself silently no-ops records that would violate it.
var ErrLastOwner = errors.New("state: cannot remove the last owner")

// Snapshot is the derived membership state. Never hand-edited;
// rebuilt from records on every change.
type Snapshot struct {
	Users                 map[string]record.Role
	LastUpdatedAt         time.Time
	LastOwnerTransitionAt time.Time
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{Users: make(map[string]record.Role)}
}

// Role returns the user's current role, or "" when absent.
func (s Snapshot) Role(userID string) record.Role {
	return s.Users[userID]
}

// IsOwner reports whether userID currently holds OWNER.
func (s Snapshot) IsOwner(userID string) bool {
	return s.Users[userID] == record.RoleOwner
}

// Owners returns the current owner set, sorted.
func (s Snapshot) Owners() []string {
	var owners []string
	for userID, role := range s.Users {
		if role == record.RoleOwner {
			owners = append(owners, userID)
		}
	}
	sort.Strings(owners)
	return owners
}

// OwnerCount returns the number of current owners.
func (s Snapshot) OwnerCount() int {
	n := 0
	for _, role := range s.Users {
		if role == record.RoleOwner {
			n++
		}
	}
	return n
}

// Projector folds records into snapshots. Issuers maps a trusted
// public key to the user it acts as; when nil the issuer-identity
// checks are skipped and only structural invariants are enforced.
type Projector struct {
	Issuers map[string]string
}

// Project folds records in (timestamp, id) order into a snapshot.
// Records that would violate a membership invariant are skipped, not
// fatal, so stale or adversarial replays cannot wedge the fold.
// Duplicate records (same canonical hash) apply once.
func (p Projector) Project(records []record.Record) Snapshot {
	ordered := make([]record.Record, len(records))
	copy(ordered, records)
	record.Sort(ordered)

	snap := NewSnapshot()
	seen := make(map[string]bool, len(ordered))
	for _, rec := range ordered {
		hash, err := rec.CanonicalHash()
		if err != nil || seen[hash] {
			continue
		}
		seen[hash] = true
		p.apply(&snap, rec)
	}
	return snap
}

func (p Projector) apply(snap *Snapshot, rec record.Record) {
	switch rec.Op {
	case record.OpAdd, record.OpSetRole:
		role := rec.Role
		if !role.Valid() {
			return
		}
		previous := snap.Users[rec.TargetUser]
		if role == record.RoleOwner && !p.mayTransitionOwner(snap, rec) {
			return
		}
		if previous == record.RoleOwner && role != record.RoleOwner {
			// Demotion revokes OWNER: needs an owner issuer and must
			// not empty the owner set.
			if !p.issuerIsOwner(snap, rec) || snap.OwnerCount() == 1 {
				return
			}
		}
		snap.Users[rec.TargetUser] = role
		if previous != role && (previous == record.RoleOwner || role == record.RoleOwner) {
			snap.LastOwnerTransitionAt = rec.Time()
		}
	case record.OpRemove:
		previous, exists := snap.Users[rec.TargetUser]
		if !exists {
			return
		}
		if previous == record.RoleOwner {
			if !p.issuerIsOwner(snap, rec) || snap.OwnerCount() == 1 {
				return
			}
			snap.LastOwnerTransitionAt = rec.Time()
		}
		delete(snap.Users, rec.TargetUser)
	default:
		return
	}
	snap.LastUpdatedAt = rec.Time()
}

// mayTransitionOwner gates OWNER grants. The very first ADD of a
// namespace may self-issue OWNER to establish initial ownership;
// after that only an existing owner can grant it.
func (p Projector) mayTransitionOwner(snap *Snapshot, rec record.Record) bool {
	if len(snap.Users) == 0 && rec.Op == record.OpAdd {
		issuer, known := p.resolveIssuer(rec)
		return !known || issuer == rec.TargetUser
	}
	return p.issuerIsOwner(snap, rec)
}

func (p Projector) issuerIsOwner(snap *Snapshot, rec record.Record) bool {
	issuer, known := p.resolveIssuer(rec)
	if !known {
		// Without an issuer mapping the identity check cannot be
		// made here; sync-time trust verification already vouched
		// for the signer.
		return true
	}
	return snap.IsOwner(issuer)
}

func (p Projector) resolveIssuer(rec record.Record) (string, bool) {
	if p.Issuers == nil {
		return "", false
	}
	userID, ok := p.Issuers[rec.Issuer.PublicKey]
	return userID, ok
}
