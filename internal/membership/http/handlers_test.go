package membershiphttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quorum/internal/membership"
	"github.com/odyssey-erp/quorum/internal/platform/kv"
	"github.com/odyssey-erp/quorum/internal/policy"
	"github.com/odyssey-erp/quorum/internal/record"
	"github.com/odyssey-erp/quorum/internal/state"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	signer, err := record.GenerateEd25519Signer()
	require.NoError(t, err)

	store := kv.NewMemory()
	log := record.NewLog(store, "ws-a")
	engine := policy.NewEngine(store, nil, nil, policy.WithCacheTTL(time.Nanosecond))
	svc := membership.NewService(log, state.Projector{}, engine, signer, nil, nil)

	// Seed an owner and a member.
	ctx := context.Background()
	_, err = svc.AddMember(ctx, "alice", "alice", record.RoleOwner)
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, "alice", "bob", record.RoleMember)
	require.NoError(t, err)

	handler := NewHandler(nil, func(ns string) (*membership.Service, bool) {
		if ns != "ws-a" {
			return nil, false
		}
		return svc, true
	})
	r := chi.NewRouter()
	r.Route("/workspaces/{ns}", handler.MountRoutes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, actor string, body any) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &payload)
	require.NoError(t, err)
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSnapshotEndpoint(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodGet, "/workspaces/ws-a/members", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snap := decode[snapshotResponse](t, resp)
	assert.Equal(t, record.RoleOwner, snap.Users["alice"])
	assert.Equal(t, record.RoleMember, snap.Users["bob"])
	assert.Equal(t, []string{"alice"}, snap.Owners)
	require.NotNil(t, snap.LastUpdatedAt)
}

func TestSnapshotRequiresActorHeader(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodGet, "/workspaces/ws-a/members", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownWorkspace(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodGet, "/workspaces/nope/members", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddMemberEndpoint(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPost, "/workspaces/ws-a/members", "alice",
		addRequest{UserID: "carol", Role: record.RoleViewer})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rec := decode[record.Record](t, resp)
	assert.Equal(t, record.OpAdd, rec.Op)
	assert.Equal(t, "carol", rec.TargetUser)
	assert.NotEmpty(t, rec.Issuer.Signature)
}

func TestAddMemberForbiddenForMember(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPost, "/workspaces/ws-a/members", "bob",
		addRequest{UserID: "carol", Role: record.RoleViewer})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAddMemberValidation(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPost, "/workspaces/ws-a/members", "alice",
		addRequest{Role: record.RoleViewer})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/workspaces/ws-a/members", "alice",
		addRequest{UserID: "carol", Role: "SUPERUSER"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRemoveMemberEndpoint(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodDelete, "/workspaces/ws-a/members/bob", "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/workspaces/ws-a/members/ghost", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Removing the sole owner conflicts with the ownership invariant.
	resp = do(t, srv, http.MethodDelete, "/workspaces/ws-a/members/alice", "alice", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSetRoleEndpoint(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodPut, "/workspaces/ws-a/members/bob/role", "alice",
		setRoleRequest{Role: record.RoleAdmin})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rec := decode[record.Record](t, resp)
	assert.Equal(t, record.OpSetRole, rec.Op)
	assert.Equal(t, record.RoleAdmin, rec.Role)
}

func TestAuthorizeEndpoint(t *testing.T) {
	srv := newServer(t)

	resp := do(t, srv, http.MethodGet, "/workspaces/ws-a/authz?action=TASK_WRITE", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[authzResponse](t, resp)
	assert.True(t, out.Allowed)

	// Denials are a 200 with allowed=false, not an HTTP error.
	resp = do(t, srv, http.MethodGet, "/workspaces/ws-a/authz?action=ROLE_SET", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = decode[authzResponse](t, resp)
	assert.False(t, out.Allowed)
	assert.NotEmpty(t, out.Reason)

	resp = do(t, srv, http.MethodGet, "/workspaces/ws-a/authz?action=DEPLOY", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = decode[authzResponse](t, resp)
	assert.False(t, out.Allowed)
}
