package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustline/internal/app"
	"trustline/internal/commit"
	"trustline/internal/config"
	"trustline/internal/db"
	"trustline/internal/engine"
	"trustline/internal/engine/auth"
	"trustline/internal/migrate"
	"trustline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("trustline-test", "mgr")
	ctx := context.Background()
	if err := app.EnsureSeeded(ctx, conn, cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: ctx}
}

// registerUser creates a DID for a plain (non-manager) principal.
func registerUser(t *testing.T, env testEnv, principal string) {
	t.Helper()
	if _, err := env.Engine.CreateDID(env.Ctx, principal, "did:trustline:"+principal); err != nil {
		t.Fatalf("create did for %s: %v", principal, err)
	}
}

func TestCreateDIDDuplicate(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "alice")
	_, err := env.Engine.CreateDID(env.Ctx, "alice", "did:trustline:other")
	if !errors.Is(err, engine.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	// Existing ownership is reported before the new identifier is inspected.
	_, err = env.Engine.CreateDID(env.Ctx, "alice", "")
	if !errors.Is(err, engine.ErrAlreadyExists) {
		t.Fatalf("expected already exists for empty identifier, got %v", err)
	}

	_, err = env.Engine.CreateDID(env.Ctx, "newcomer", "")
	var invalidArg engine.InvalidArgumentError
	if !errors.As(err, &invalidArg) {
		t.Fatalf("expected invalid argument for first empty identifier, got %v", err)
	}
}

func TestUpdateDID(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "alice")

	if _, err := env.Engine.UpdateDID(env.Ctx, "alice", "did:trustline:alice"); err == nil {
		t.Fatal("expected error on unchanged identifier")
	}
	rec, err := env.Engine.UpdateDID(env.Ctx, "alice", "did:web:alice")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.Identifier != "did:web:alice" {
		t.Fatalf("identifier = %q", rec.Identifier)
	}
	got, err := env.Engine.GetDID(env.Ctx, "alice")
	if err != nil || got.Identifier != "did:web:alice" {
		t.Fatalf("get after update: %v %q", err, got.Identifier)
	}

	_, err = env.Engine.UpdateDID(env.Ctx, "nobody", "did:web:x")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRoleHistoryIsAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	for _, role := range []string{"engineer", "auditor", "engineer"} {
		if _, err := env.Engine.AssignRole(env.Ctx, "mgr", "bob", role); err != nil {
			t.Fatalf("assign %s: %v", role, err)
		}
	}
	history, err := env.Engine.GetRole(env.Ctx, "bob")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	want := []string{"engineer", "auditor", "engineer"}
	if len(history) != len(want) {
		t.Fatalf("history = %v", history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Fatalf("history[%d] = %q, want %q", i, history[i], want[i])
		}
	}
}

func TestGetRoleWithoutIdentity(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GetRole(env.Ctx, "ghost")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAssignRoleRequiresManager(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")
	_, err := env.Engine.AssignRole(env.Ctx, "bob", "bob", "manager")
	var unauthorized auth.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestIssueAndVerifyRole(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	cred, err := env.Engine.IssueCredential(env.Ctx, "mgr", "bob", "engineer", 250)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cred.ID != 0 {
		t.Fatalf("first credential id = %d", cred.ID)
	}

	ok, err := env.Engine.VerifyRole(env.Ctx, "bob", "mgr", "engineer")
	if err != nil || !ok {
		t.Fatalf("verify engineer: ok=%v err=%v", ok, err)
	}
	ok, err = env.Engine.VerifyRole(env.Ctx, "bob", "mgr", "auditor")
	if err != nil || ok {
		t.Fatalf("verify auditor should be false: ok=%v err=%v", ok, err)
	}
	ok, err = env.Engine.VerifyRole(env.Ctx, "bob", "eve", "engineer")
	if err != nil || ok {
		t.Fatalf("wrong issuer should be false: ok=%v err=%v", ok, err)
	}
}

func TestVerifyRoleChecksLatestOnly(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	if _, err := env.Engine.IssueCredential(env.Ctx, "mgr", "bob", "engineer", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.IssueCredential(env.Ctx, "mgr", "bob", "auditor", 100); err != nil {
		t.Fatal(err)
	}
	ok, err := env.Engine.VerifyRole(env.Ctx, "bob", "mgr", "engineer")
	if err != nil || ok {
		t.Fatalf("superseded role should not verify: ok=%v err=%v", ok, err)
	}
	ok, err = env.Engine.VerifyRole(env.Ctx, "bob", "mgr", "auditor")
	if err != nil || !ok {
		t.Fatalf("latest role should verify: ok=%v err=%v", ok, err)
	}
}

func TestVerifyRoleWithoutCredentials(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")
	_, err := env.Engine.VerifyRole(env.Ctx, "bob", "mgr", "engineer")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVerifyAttributeThreshold(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	// 250 is below the default threshold of 300.
	if _, err := env.Engine.IssueCredential(env.Ctx, "mgr", "bob", "engineer", 250); err != nil {
		t.Fatal(err)
	}
	ok, err := env.Engine.VerifyAttributeThreshold(env.Ctx, "bob", "mgr", 250)
	if err != nil || ok {
		t.Fatalf("below threshold should be false: ok=%v err=%v", ok, err)
	}

	// The argument passed to the verifier is recorded but not matched; the
	// stored commitment decides.
	if _, err := env.Engine.IssueCredential(env.Ctx, "mgr", "bob", "engineer", 400); err != nil {
		t.Fatal(err)
	}
	ok, err = env.Engine.VerifyAttributeThreshold(env.Ctx, "bob", "mgr", 1)
	if err != nil || !ok {
		t.Fatalf("above threshold should be true: ok=%v err=%v", ok, err)
	}

	ok, err = env.Engine.VerifyAttributeThreshold(env.Ctx, "bob", "eve", 400)
	if err != nil || ok {
		t.Fatalf("foreign issuer should be false: ok=%v err=%v", ok, err)
	}
}

func TestSameSecondCredentialsDiffer(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	a, err := env.Engine.IssueCredential(env.Ctx, "mgr", "bob", "engineer", 100)
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.IssueCredential(env.Ctx, "mgr", "bob", "engineer", 100)
	if err != nil {
		t.Fatal(err)
	}
	if a.IssuedAt != b.IssuedAt {
		t.Fatalf("fixed clock should pin issued_at: %s vs %s", a.IssuedAt, b.IssuedAt)
	}
	if a.FullHash == b.FullHash || a.RoleHash == b.RoleHash {
		t.Fatal("same-second credentials must have distinct commitments")
	}
}

func TestMetadataCommitment(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "bob")

	if _, err := env.Engine.SaveProfile(env.Ctx, "bob", "Bob", "bob@example.com"); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	hash := env.Engine.PresentCredential("Bob", "bob@example.com")
	if hash != commit.Metadata("Bob", "bob@example.com") {
		t.Fatal("present must equal the metadata commitment")
	}
	ok, err := env.Engine.VerifyMetadataCommitment(env.Ctx, "bob", hash)
	if err != nil || !ok {
		t.Fatalf("matching hash: ok=%v err=%v", ok, err)
	}
	ok, err = env.Engine.VerifyMetadataCommitment(env.Ctx, "bob", env.Engine.PresentCredential("Mallory", "bob@example.com"))
	if err != nil || ok {
		t.Fatalf("tampered hash should fail: ok=%v err=%v", ok, err)
	}

	_, err = env.Engine.VerifyMetadataCommitment(env.Ctx, "noprofile", hash)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
