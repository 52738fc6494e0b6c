package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trustline/internal/repo"
)

// ManagerRole is the privileged role checked by RequireManager.
const ManagerRole = "manager"

// UnauthorizedError indicates the caller lacks the capability for an operation.
type UnauthorizedError struct {
	Principal string
	Reason    string
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("principal %s unauthorized: %s", e.Principal, e.Reason)
}

// IdentityRequiredError indicates the caller has no DID record.
type IdentityRequiredError struct {
	Principal string
}

func (e IdentityRequiredError) Error() string {
	return fmt.Sprintf("principal %s has no identity", e.Principal)
}

// Guard gates mutating ledger operations. Both checks are pure predicates over
// the dids and roles tables; neither has side effects.
type Guard struct {
	DB *sql.DB
}

// RequireIdentity fails unless the principal owns a DID record.
func (g Guard) RequireIdentity(ctx context.Context, tx *sql.Tx, principal string) error {
	r := repo.Repo{DB: g.DB}
	_, err := r.GetDIDTx(ctx, tx, principal)
	if errors.Is(err, repo.ErrNotFound) {
		return IdentityRequiredError{Principal: principal}
	}
	return err
}

// RequireManager fails unless the principal's current role is the manager role.
func (g Guard) RequireManager(ctx context.Context, tx *sql.Tx, principal string) error {
	r := repo.Repo{DB: g.DB}
	role, err := r.GetCurrentRoleTx(ctx, tx, principal)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && role != ManagerRole) {
		return UnauthorizedError{Principal: principal, Reason: "manager role required"}
	}
	return err
}

// IsManager reports whether the principal currently holds the manager role.
func (g Guard) IsManager(ctx context.Context, principal string) (bool, error) {
	r := repo.Repo{DB: g.DB}
	role, err := r.GetCurrentRole(ctx, principal)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == ManagerRole, nil
}

// HasIdentity reports whether the principal owns a DID record.
func (g Guard) HasIdentity(ctx context.Context, principal string) (bool, error) {
	r := repo.Repo{DB: g.DB}
	_, err := r.GetDID(ctx, principal)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
