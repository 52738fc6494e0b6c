package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trustline/internal/commit"
	"trustline/internal/config"
	"trustline/internal/domain"
	"trustline/internal/engine/auth"
	"trustline/internal/events"
	"trustline/internal/repo"
)

const defaultThreshold = 300

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Guard  auth.Guard
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Guard:  auth.Guard{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) threshold() int64 {
	if e.Config != nil && e.Config.Credentials.Threshold > 0 {
		return e.Config.Credentials.Threshold
	}
	return defaultThreshold
}

// audit opens a short transaction whose only write is one audit event. Used by
// the verification queries, which mutate no ledger state but still grow the
// event log on every call.
func (e Engine) audit(ctx context.Context, kind, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, kind, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// --- IdentityStore ---

// CreateDID anchors a principal's self-asserted identifier. A principal may own
// at most one record.
func (e Engine) CreateDID(ctx context.Context, caller, identifier string) (domain.DIDRecord, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DIDRecord{}, err
	}
	defer tx.Rollback()

	// Duplicate ownership wins over argument validation: a second create
	// always reports the existing record, whatever the new identifier is.
	if _, err := e.Repo.GetDIDTx(ctx, tx, caller); err == nil {
		return domain.DIDRecord{}, ErrAlreadyExists
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.DIDRecord{}, err
	}
	if identifier == "" {
		return domain.DIDRecord{}, InvalidArgumentError{Field: "identifier", Reason: "must not be empty"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	rec := domain.DIDRecord{
		Principal:  caller,
		Identifier: identifier,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertDID(ctx, tx, rec); err != nil {
		return domain.DIDRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, "did.created", "did", caller, caller, events.EventPayload{"identifier": identifier}); err != nil {
		return domain.DIDRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DIDRecord{}, err
	}
	return rec, nil
}

func (e Engine) GetDID(ctx context.Context, caller string) (domain.DIDRecord, error) {
	return e.Repo.GetDID(ctx, caller)
}

// UpdateDID replaces the identifier in place. It re-emits did.created as an
// "identity changed" signal, not a new-record signal.
func (e Engine) UpdateDID(ctx context.Context, caller, newIdentifier string) (domain.DIDRecord, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DIDRecord{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetDIDTx(ctx, tx, caller)
	if err != nil {
		return domain.DIDRecord{}, err
	}
	if newIdentifier == "" {
		return domain.DIDRecord{}, InvalidArgumentError{Field: "identifier", Reason: "must not be empty"}
	}
	if newIdentifier == rec.Identifier {
		return domain.DIDRecord{}, InvalidArgumentError{Field: "identifier", Reason: "must differ from current value"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateDIDIdentifier(ctx, tx, caller, newIdentifier, now); err != nil {
		return domain.DIDRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, "did.created", "did", caller, caller, events.EventPayload{"identifier": newIdentifier}); err != nil {
		return domain.DIDRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DIDRecord{}, err
	}
	rec.Identifier = newIdentifier
	rec.UpdatedAt = now
	return rec, nil
}

// --- RoleDirectory ---

// AssignRole sets the subject's current role and appends it to the history.
func (e Engine) AssignRole(ctx context.Context, caller, subject, role string) (domain.RoleRecord, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RoleRecord{}, err
	}
	defer tx.Rollback()

	if err := e.Guard.RequireManager(ctx, tx, caller); err != nil {
		return domain.RoleRecord{}, err
	}
	if err := e.Guard.RequireIdentity(ctx, tx, caller); err != nil {
		return domain.RoleRecord{}, err
	}
	if role == "" {
		return domain.RoleRecord{}, InvalidArgumentError{Field: "role", Reason: "must not be empty"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpsertCurrentRole(ctx, tx, subject, role); err != nil {
		return domain.RoleRecord{}, err
	}
	if err := e.Repo.AppendRoleHistory(ctx, tx, subject, role, now); err != nil {
		return domain.RoleRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, "role.assigned", "role", subject, caller, events.EventPayload{"role": role}); err != nil {
		return domain.RoleRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RoleRecord{}, err
	}
	history, err := e.Repo.ListRoleHistory(ctx, subject)
	if err != nil {
		return domain.RoleRecord{}, err
	}
	return domain.RoleRecord{Principal: subject, Current: role, History: history}, nil
}

// GetRole returns the caller's full role history, not just the current role.
func (e Engine) GetRole(ctx context.Context, caller string) ([]string, error) {
	if _, err := e.Repo.GetDID(ctx, caller); err != nil {
		return nil, err
	}
	history, err := e.Repo.ListRoleHistory(ctx, caller)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, InvalidArgumentError{Field: "roles", Reason: "no roles assigned"}
	}
	return history, nil
}

// --- CredentialLedger ---

// IssueCredential records four commitment hashes over subsets of
// (issuer, subject, role, attribute, issuedAt, seq) and appends the role to the
// subject's history. The seq nonce keeps same-second issuances distinct.
func (e Engine) IssueCredential(ctx context.Context, caller, subject, role string, attribute int64) (domain.Credential, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Credential{}, err
	}
	defer tx.Rollback()

	if err := e.Guard.RequireManager(ctx, tx, caller); err != nil {
		return domain.Credential{}, err
	}
	if err := e.Guard.RequireIdentity(ctx, tx, caller); err != nil {
		return domain.Credential{}, err
	}
	if role == "" {
		return domain.Credential{}, InvalidArgumentError{Field: "role", Reason: "must not be empty"}
	}
	seq, err := e.Repo.NextCredentialID(ctx, tx)
	if err != nil {
		return domain.Credential{}, err
	}
	issuedAt := e.now().UTC().Format(time.RFC3339)
	above := attribute > e.threshold()
	cred := domain.Credential{
		ID:            seq,
		Issuer:        caller,
		Subject:       subject,
		Role:          role,
		Attribute:     attribute,
		FullHash:      commit.Full(caller, subject, role, attribute, issuedAt, seq),
		RoleHash:      commit.Role(caller, subject, role, issuedAt, seq),
		AttributeHash: commit.Attribute(caller, subject, attribute, issuedAt, seq),
		ThresholdHash: commit.AboveThreshold(caller, subject, above, issuedAt, seq),
		IssuedAt:      issuedAt,
	}
	if err := e.Repo.InsertCredential(ctx, tx, cred); err != nil {
		return domain.Credential{}, err
	}
	if err := e.Repo.AppendRoleHistory(ctx, tx, subject, role, issuedAt); err != nil {
		return domain.Credential{}, err
	}
	if err := e.Events.Append(ctx, tx, "credential.issued", "credential", subject, caller, events.EventPayload{
		"credential_id": seq,
		"role":          role,
		"attribute":     attribute,
		"role_hash":     cred.RoleHash,
	}); err != nil {
		return domain.Credential{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Credential{}, err
	}
	return cred, nil
}

// VerifyRole recomputes the role commitment from (issuer, subject, role) plus
// the latest credential's recorded issuance fields and compares it against that
// credential's stored role hash. Earlier credentials are never consulted.
func (e Engine) VerifyRole(ctx context.Context, subject, issuer, role string) (bool, error) {
	if _, err := e.Repo.GetDID(ctx, subject); err != nil {
		return false, err
	}
	latest, err := e.Repo.LatestCredential(ctx, subject)
	if err != nil {
		return false, err
	}
	status := commit.Role(issuer, subject, role, latest.IssuedAt, latest.ID) == latest.RoleHash
	if err := e.audit(ctx, "role.verified", "credential", subject, issuer, events.EventPayload{
		"role":   role,
		"status": status,
	}); err != nil {
		return false, err
	}
	return status, nil
}

// VerifyAttributeThreshold scans all of the subject's credentials and returns
// true on the first one issued by the given issuer whose stored threshold
// commitment says the attribute cleared the threshold. The attribute argument
// is recorded for audit only; it is not part of the match.
func (e Engine) VerifyAttributeThreshold(ctx context.Context, subject, issuer string, attribute int64) (bool, error) {
	if _, err := e.Repo.GetDID(ctx, subject); err != nil {
		return false, err
	}
	creds, err := e.Repo.ListCredentials(ctx, subject)
	if err != nil {
		return false, err
	}
	if len(creds) == 0 {
		return false, repo.ErrNotFound
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	result := false
	for _, c := range creds {
		match := c.Issuer == issuer &&
			c.ThresholdHash == commit.AboveThreshold(issuer, subject, true, c.IssuedAt, c.ID)
		if err := e.Events.Append(ctx, tx, "attribute.verified", "credential", subject, issuer, events.EventPayload{
			"credential_id": c.ID,
			"attribute":     attribute,
			"status":        match,
		}); err != nil {
			return false, err
		}
		if match {
			result = true
			break
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return result, nil
}

// PresentCredential hashes self-declared metadata locally. Pure; no state is
// read or written.
func (e Engine) PresentCredential(name, email string) string {
	return commit.Metadata(name, email)
}

// SaveProfile stores the caller's self-declared metadata backing the metadata
// commitment scheme.
func (e Engine) SaveProfile(ctx context.Context, caller, name, email string) (domain.Profile, error) {
	if name == "" {
		return domain.Profile{}, InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}
	if email == "" {
		return domain.Profile{}, InvalidArgumentError{Field: "email", Reason: "must not be empty"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	defer tx.Rollback()
	if err := e.Guard.RequireIdentity(ctx, tx, caller); err != nil {
		return domain.Profile{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Profile{
		Principal: caller,
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.UpsertProfile(ctx, tx, p); err != nil {
		return domain.Profile{}, err
	}
	if err := e.Events.Append(ctx, tx, "profile.saved", "profile", caller, caller, events.EventPayload{}); err != nil {
		return domain.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

// VerifyMetadataCommitment recomputes the metadata hash from the caller's
// stored profile and compares it with the presented one.
func (e Engine) VerifyMetadataCommitment(ctx context.Context, caller, presentedHash string) (bool, error) {
	p, err := e.Repo.GetProfile(ctx, caller)
	if err != nil {
		return false, err
	}
	status := commit.Metadata(p.Name, p.Email) == presentedHash
	if err := e.audit(ctx, "metadata.verified", "profile", caller, caller, events.EventPayload{"status": status}); err != nil {
		return false, err
	}
	return status, nil
}
