package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trustline/internal/config"
	"trustline/internal/domain"
	"trustline/internal/engine/auth"
	"trustline/internal/repo"
)

// ResolveServiceAndConfig picks the active service config, preferring the
// workspace trustline.yml, then the copy stored in the DB, then the built-in
// defaults. Whichever source wins is written back to service_configs so the
// server and CLI agree on a single config.
func ResolveServiceAndConfig(ctx context.Context, workspace, serviceOverride string, r repo.Repo) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	serviceID := serviceOverride
	if serviceID == "" && cfg != nil {
		serviceID = cfg.Service.ID
	}
	if serviceID == "" {
		serviceID = "trustline"
	}
	if cfg == nil {
		if stored, err := r.GetServiceConfig(ctx, serviceID); err == nil {
			cfg = stored
		} else if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		} else {
			cfg = config.Default(serviceID, auth.ManagerRole)
		}
	}
	cfg.Service.ID = serviceID
	if err := r.UpsertServiceConfig(ctx, serviceID, cfg); err != nil {
		return "", nil, fmt.Errorf("store service config: %w", err)
	}
	return serviceID, cfg, nil
}

// EnsureSeeded creates the configured manager principal on first use: a DID
// record with the seed identifier, the manager role, and a one-entry role
// history. Idempotent; a second call is a no-op.
func EnsureSeeded(ctx context.Context, db *sql.DB, cfg *config.Config) error {
	if cfg == nil || cfg.Seed.Manager == "" {
		return nil
	}
	r := repo.Repo{DB: db}
	seeded, err := auth.Guard{DB: db}.HasIdentity(ctx, cfg.Seed.Manager)
	if err != nil {
		return err
	}
	if seeded {
		return nil
	}
	identifier := cfg.Seed.Identifier
	if identifier == "" {
		identifier = fmt.Sprintf("did:trustline:%s", cfg.Seed.Manager)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	rec := domain.DIDRecord{
		Principal:  cfg.Seed.Manager,
		Identifier: identifier,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.InsertDID(ctx, tx, rec); err != nil {
		return fmt.Errorf("seed manager did: %w", err)
	}
	if err := r.UpsertCurrentRole(ctx, tx, cfg.Seed.Manager, auth.ManagerRole); err != nil {
		return fmt.Errorf("seed manager role: %w", err)
	}
	if err := r.AppendRoleHistory(ctx, tx, cfg.Seed.Manager, auth.ManagerRole, now); err != nil {
		return fmt.Errorf("seed manager role history: %w", err)
	}
	return tx.Commit()
}
