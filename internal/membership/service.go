package membership

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/quorum/internal/audit"
	"github.com/odyssey-erp/quorum/internal/policy"
	"github.com/odyssey-erp/quorum/internal/record"
	"github.com/odyssey-erp/quorum/internal/state"
)

// Service composes the static role check, the policy engine, and the
// record log into one authorization-and-mutation surface. One
// instance per namespace; local mutations are serialized internally
// so a multi-goroutine host cannot race itself.
type Service struct {
	log       *record.Log
	projector state.Projector
	policy    *policy.Engine
	signer    record.Signer
	hook      audit.Hook
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// Option tweaks service construction.
type Option func(*Service)

// WithClock overrides the mutation clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the facade. The signer is the local replica's
// identity; every mutation this service accepts is signed with it.
func NewService(log *record.Log, projector state.Projector, policyEngine *policy.Engine, signer record.Signer, hook audit.Hook, logger *slog.Logger, opts ...Option) *Service {
	if hook == nil {
		hook = audit.Nop{}
	}
	s := &Service{
		log:       log,
		projector: projector,
		policy:    policyEngine,
		signer:    signer,
		hook:      hook,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns the workspace this service governs.
func (s *Service) Namespace() string {
	return s.log.Namespace()
}

// Snapshot projects the current membership state from the log.
func (s *Service) Snapshot(ctx context.Context) (state.Snapshot, error) {
	records, err := s.log.All(ctx)
	if err != nil {
		return state.Snapshot{}, err
	}
	return s.projector.Project(records), nil
}

// Authorize answers whether the actor may perform the coarse action:
// static role sufficiency first, then the policy engine. No mutation,
// no quota commit.
func (s *Service) Authorize(ctx context.Context, actorID string, action Action) error {
	need, ok := action.MinRole()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	actorRole := snap.Role(actorID)
	if !actorRole.AtLeast(need) {
		return fmt.Errorf("%w: %s requires %s", ErrAccessDenied, action, need)
	}
	return s.policy.Enforce(ctx, policy.DecisionContext{
		Operation: action.Operation(),
		Namespace: s.Namespace(),
		ActorID:   actorID,
		ActorRole: actorRole,
		Now:       s.now(),
	}, policy.EnforceOptions{})
}

// AddMember admits userID at the given role. The very first add of a
// namespace may self-issue OWNER to bootstrap ownership; after that
// adding requires ADMIN and granting OWNER requires OWNER.
func (s *Service) AddMember(ctx context.Context, actorID, userID string, role record.Role) (record.Record, error) {
	if !role.Valid() {
		return record.Record{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return record.Record{}, err
	}
	actorRole := snap.Role(actorID)
	bootstrap := len(snap.Users) == 0 && actorID == userID && role == record.RoleOwner
	if !bootstrap {
		if !actorRole.AtLeast(record.RoleAdmin) {
			return record.Record{}, fmt.Errorf("%w: %s requires %s", ErrAccessDenied, ActionInviteCreate, record.RoleAdmin)
		}
		if role == record.RoleOwner && actorRole != record.RoleOwner {
			return record.Record{}, fmt.Errorf("%w: only OWNER can grant OWNER role", ErrAccessDenied)
		}
	}

	rec, err := s.commit(ctx, OpAddMember, actorID, actorRole, record.OpAdd, userID, role)
	if err != nil {
		return record.Record{}, err
	}
	s.hook.Log(ctx, audit.EventMemberAdded, map[string]any{
		"namespace": s.Namespace(),
		"user":      userID,
		"role":      string(role),
	}, actorID)
	return rec, nil
}

// RemoveMember removes userID. Removing an OWNER requires OWNER, and
// the last owner can never be removed.
func (s *Service) RemoveMember(ctx context.Context, actorID, userID string) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return record.Record{}, err
	}
	targetRole, exists := snap.Users[userID]
	if !exists {
		return record.Record{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	actorRole := snap.Role(actorID)
	if !actorRole.AtLeast(record.RoleAdmin) {
		return record.Record{}, fmt.Errorf("%w: %s requires %s", ErrAccessDenied, ActionRoleSet, record.RoleAdmin)
	}
	if targetRole == record.RoleOwner {
		if actorRole != record.RoleOwner {
			return record.Record{}, fmt.Errorf("%w: only OWNER can revoke OWNER role", ErrAccessDenied)
		}
		if snap.OwnerCount() == 1 {
			return record.Record{}, fmt.Errorf("membership: %w", state.ErrLastOwner)
		}
	}

	rec, err := s.commitWithTarget(ctx, OpRemoveMember, actorID, actorRole, targetRole, record.OpRemove, userID, "")
	if err != nil {
		return record.Record{}, err
	}
	s.hook.Log(ctx, audit.EventMemberRemoved, map[string]any{
		"namespace": s.Namespace(),
		"user":      userID,
	}, actorID)
	return rec, nil
}

// SetRole changes userID's role. Granting or revoking OWNER requires
// OWNER; demoting the last owner is rejected.
func (s *Service) SetRole(ctx context.Context, actorID, userID string, role record.Role) (record.Record, error) {
	if !role.Valid() {
		return record.Record{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return record.Record{}, err
	}
	current, exists := snap.Users[userID]
	if !exists {
		return record.Record{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	actorRole := snap.Role(actorID)
	if !actorRole.AtLeast(record.RoleAdmin) {
		return record.Record{}, fmt.Errorf("%w: %s requires %s", ErrAccessDenied, ActionRoleSet, record.RoleAdmin)
	}
	if role == record.RoleOwner && actorRole != record.RoleOwner {
		return record.Record{}, fmt.Errorf("%w: only OWNER can grant OWNER role", ErrAccessDenied)
	}
	if current == record.RoleOwner && role != record.RoleOwner {
		if actorRole != record.RoleOwner {
			return record.Record{}, fmt.Errorf("%w: only OWNER can revoke OWNER role", ErrAccessDenied)
		}
		if snap.OwnerCount() == 1 {
			return record.Record{}, fmt.Errorf("membership: %w", state.ErrLastOwner)
		}
	}

	rec, err := s.commit(ctx, OpSetRole, actorID, actorRole, record.OpSetRole, userID, role)
	if err != nil {
		return record.Record{}, err
	}
	s.hook.Log(ctx, audit.EventRoleChanged, map[string]any{
		"namespace": s.Namespace(),
		"user":      userID,
		"role":      string(role),
	}, actorID)
	return rec, nil
}

func (s *Service) commit(ctx context.Context, operation, actorID string, actorRole record.Role, op record.Op, userID string, role record.Role) (record.Record, error) {
	return s.commitWithTarget(ctx, operation, actorID, actorRole, role, op, userID, role)
}

// commitWithTarget runs the dynamic policy check and, on allow,
// creates, signs, and appends the record. Nothing partial persists:
// a denial at this layer leaves the log untouched.
func (s *Service) commitWithTarget(ctx context.Context, operation, actorID string, actorRole, targetRole record.Role, op record.Op, userID string, role record.Role) (record.Record, error) {
	now := s.now()
	if err := s.policy.Enforce(ctx, policy.DecisionContext{
		Operation:  operation,
		Namespace:  s.Namespace(),
		ActorID:    actorID,
		ActorRole:  actorRole,
		TargetRole: targetRole,
		Now:        now,
	}, policy.EnforceOptions{CommitCap: true}); err != nil {
		return record.Record{}, err
	}

	rec, err := record.New(s.signer, s.Namespace(), op, userID, role, now)
	if err != nil {
		return record.Record{}, err
	}
	if err := s.log.Append(ctx, rec); err != nil {
		return record.Record{}, err
	}
	if s.logger != nil {
		s.logger.Info("membership record appended",
			slog.String("namespace", s.Namespace()),
			slog.String("op", string(op)),
			slog.String("user", userID),
			slog.String("actor", actorID),
		)
	}
	return rec, nil
}
