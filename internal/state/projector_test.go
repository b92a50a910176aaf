package state

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/odyssey-erp/quorum/internal/record"
)

func rec(id string, ts int64, op record.Op, target string, role record.Role, issuerKey string) record.Record {
	return record.Record{
		Version:     record.Version,
		ID:          id,
		Timestamp:   ts,
		Op:          op,
		TargetUser:  target,
		Role:        role,
		WorkspaceID: "ws-a",
		Issuer:      record.Issuer{PublicKey: issuerKey, Signature: "sig"},
	}
}

func TestBootstrapSelfIssuedOwner(t *testing.T) {
	p := Projector{Issuers: map[string]string{"kA": "ownerA"}}
	snap := p.Project([]record.Record{
		rec("1", 10, record.OpAdd, "ownerA", record.RoleOwner, "kA"),
	})
	if snap.Users["ownerA"] != record.RoleOwner {
		t.Fatalf("expected ownerA to be OWNER, got %q", snap.Users["ownerA"])
	}
	if got := snap.Owners(); len(got) != 1 || got[0] != "ownerA" {
		t.Fatalf("expected owners=[ownerA], got %v", got)
	}
}

func TestBootstrapRejectsForeignOwnerGrant(t *testing.T) {
	// First record grants OWNER to someone other than the issuer.
	p := Projector{Issuers: map[string]string{"kA": "ownerA"}}
	snap := p.Project([]record.Record{
		rec("1", 10, record.OpAdd, "bob", record.RoleOwner, "kA"),
	})
	if len(snap.Users) != 0 {
		t.Fatalf("foreign self-issue must be a no-op, got %v", snap.Users)
	}
}

func TestRemovingLastOwnerIsNoOp(t *testing.T) {
	p := Projector{Issuers: map[string]string{"kA": "ownerA"}}
	snap := p.Project([]record.Record{
		rec("1", 10, record.OpAdd, "ownerA", record.RoleOwner, "kA"),
		rec("2", 20, record.OpRemove, "ownerA", "", "kA"),
	})
	if snap.Users["ownerA"] != record.RoleOwner {
		t.Fatalf("last owner removal must be skipped, got %v", snap.Users)
	}
	if snap.OwnerCount() != 1 {
		t.Fatalf("owners must stay non-empty")
	}
}

func TestDemotingLastOwnerIsNoOp(t *testing.T) {
	p := Projector{Issuers: map[string]string{"kA": "ownerA"}}
	snap := p.Project([]record.Record{
		rec("1", 10, record.OpAdd, "ownerA", record.RoleOwner, "kA"),
		rec("2", 20, record.OpSetRole, "ownerA", record.RoleViewer, "kA"),
	})
	if snap.Users["ownerA"] != record.RoleOwner {
		t.Fatalf("last owner demotion must be skipped, got %v", snap.Users)
	}
}

func TestNonOwnerCannotGrantOwner(t *testing.T) {
	p := Projector{Issuers: map[string]string{"kA": "ownerA", "kB": "bob"}}
	snap := p.Project([]record.Record{
		rec("1", 10, record.OpAdd, "ownerA", record.RoleOwner, "kA"),
		rec("2", 20, record.OpAdd, "bob", record.RoleAdmin, "kA"),
		rec("3", 30, record.OpSetRole, "bob", record.RoleOwner, "kB"),
	})
	if snap.Users["bob"] != record.RoleAdmin {
		t.Fatalf("ADMIN self-promotion to OWNER must be skipped, got %q", snap.Users["bob"])
	}
}

func TestOwnerHandoff(t *testing.T) {
	p := Projector{Issuers: map[string]string{"kA": "ownerA"}}
	snap := p.Project([]record.Record{
		rec("1", 10, record.OpAdd, "ownerA", record.RoleOwner, "kA"),
		rec("2", 20, record.OpAdd, "bob", record.RoleOwner, "kA"),
		rec("3", 30, record.OpRemove, "ownerA", "", "kA"),
	})
	if snap.Users["bob"] != record.RoleOwner {
		t.Fatalf("bob must be OWNER after handoff")
	}
	if _, exists := snap.Users["ownerA"]; exists {
		t.Fatalf("ownerA must be removed once another owner exists")
	}
}

func TestProjectionIsArrivalOrderIndependent(t *testing.T) {
	records := []record.Record{
		rec("1", 10, record.OpAdd, "ownerA", record.RoleOwner, "kA"),
		rec("2", 20, record.OpAdd, "bob", record.RoleMember, "kA"),
		rec("3", 30, record.OpSetRole, "bob", record.RoleAdmin, "kA"),
		rec("4", 40, record.OpAdd, "carol", record.RoleViewer, "kA"),
		rec("5", 50, record.OpRemove, "carol", "", "kA"),
	}
	p := Projector{Issuers: map[string]string{"kA": "ownerA"}}
	want := p.Project(records)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([]record.Record, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := p.Project(shuffled)
		if !reflect.DeepEqual(want.Users, got.Users) {
			t.Fatalf("projection differs under arrival order %d: %v vs %v", i, want.Users, got.Users)
		}
	}
}

func TestDuplicateRecordAppliesOnce(t *testing.T) {
	base := rec("1", 10, record.OpAdd, "ownerA", record.RoleOwner, "kA")
	p := Projector{Issuers: map[string]string{"kA": "ownerA"}}
	once := p.Project([]record.Record{base})
	twice := p.Project([]record.Record{base, base})
	if !reflect.DeepEqual(once.Users, twice.Users) {
		t.Fatalf("reapplying the same record must be a no-op")
	}
}

func TestTimestampTieBrokenByID(t *testing.T) {
	// Two SET_ROLEs at the same timestamp; the higher id wins.
	p := Projector{Issuers: map[string]string{"kA": "ownerA"}}
	snap := p.Project([]record.Record{
		rec("1", 10, record.OpAdd, "ownerA", record.RoleOwner, "kA"),
		rec("2", 15, record.OpAdd, "bob", record.RoleViewer, "kA"),
		rec("b", 20, record.OpSetRole, "bob", record.RoleAdmin, "kA"),
		rec("a", 20, record.OpSetRole, "bob", record.RoleMember, "kA"),
	})
	if snap.Users["bob"] != record.RoleAdmin {
		t.Fatalf("expected id tie-break to pick ADMIN, got %q", snap.Users["bob"])
	}
}
