package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"trustline/internal/config"
	"trustline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- DIDs ---

func (r Repo) InsertDID(ctx context.Context, tx *sql.Tx, rec domain.DIDRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dids(principal,identifier,created_at,updated_at) VALUES (?,?,?,?)`,
		rec.Principal, rec.Identifier, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetDID(ctx context.Context, principal string) (domain.DIDRecord, error) {
	return scanDID(r.DB.QueryRowContext(ctx, `SELECT principal,identifier,created_at,updated_at FROM dids WHERE principal=?`, principal))
}

func (r Repo) GetDIDTx(ctx context.Context, tx *sql.Tx, principal string) (domain.DIDRecord, error) {
	return scanDID(tx.QueryRowContext(ctx, `SELECT principal,identifier,created_at,updated_at FROM dids WHERE principal=?`, principal))
}

func scanDID(row *sql.Row) (domain.DIDRecord, error) {
	var rec domain.DIDRecord
	err := row.Scan(&rec.Principal, &rec.Identifier, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r Repo) UpdateDIDIdentifier(ctx context.Context, tx *sql.Tx, principal, identifier, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE dids SET identifier=?, updated_at=? WHERE principal=?`, identifier, updatedAt, principal)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Roles ---

func (r Repo) UpsertCurrentRole(ctx context.Context, tx *sql.Tx, principal, role string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO roles(principal,role) VALUES (?,?)
ON CONFLICT(principal) DO UPDATE SET role=excluded.role`, principal, role)
	return err
}

func (r Repo) GetCurrentRole(ctx context.Context, principal string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT role FROM roles WHERE principal=?`, principal).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) GetCurrentRoleTx(ctx context.Context, tx *sql.Tx, principal string) (string, error) {
	var role string
	err := tx.QueryRowContext(ctx, `SELECT role FROM roles WHERE principal=?`, principal).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) AppendRoleHistory(ctx context.Context, tx *sql.Tx, principal, role, assignedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO role_history(principal,role,assigned_at) VALUES (?,?,?)`, principal, role, assignedAt)
	return err
}

func (r Repo) ListRoleHistory(ctx context.Context, principal string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role FROM role_history WHERE principal=? ORDER BY id ASC`, principal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		history = append(history, role)
	}
	return history, rows.Err()
}

// --- Credentials ---

// NextCredentialID allocates the next issuance sequence inside the caller's tx.
func (r Repo) NextCredentialID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id)+1,0) FROM credentials`).Scan(&next)
	return next, err
}

func (r Repo) InsertCredential(ctx context.Context, tx *sql.Tx, c domain.Credential) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO credentials(id,issuer,subject,role,attribute,full_hash,role_hash,attribute_hash,threshold_hash,issued_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Issuer, c.Subject, c.Role, c.Attribute, c.FullHash, c.RoleHash, c.AttributeHash, c.ThresholdHash, c.IssuedAt)
	return err
}

const credentialColumns = `id,issuer,subject,role,attribute,full_hash,role_hash,attribute_hash,threshold_hash,issued_at`

func scanCredential(scan func(dest ...any) error) (domain.Credential, error) {
	var c domain.Credential
	err := scan(&c.ID, &c.Issuer, &c.Subject, &c.Role, &c.Attribute, &c.FullHash, &c.RoleHash, &c.AttributeHash, &c.ThresholdHash, &c.IssuedAt)
	return c, err
}

func (r Repo) LatestCredential(ctx context.Context, subject string) (domain.Credential, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE subject=? ORDER BY id DESC LIMIT 1`, subject)
	c, err := scanCredential(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCredentials(ctx context.Context, subject string) ([]domain.Credential, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE subject=? ORDER BY id ASC`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- Profiles ---

func (r Repo) UpsertProfile(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO profiles(principal,name,email,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(principal) DO UPDATE SET name=excluded.name, email=excluded.email, updated_at=excluded.updated_at`,
		p.Principal, p.Name, p.Email, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, principal string) (domain.Profile, error) {
	var p domain.Profile
	err := r.DB.QueryRowContext(ctx, `SELECT principal,name,email,created_at,updated_at FROM profiles WHERE principal=?`, principal).
		Scan(&p.Principal, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// --- Service config ---

func (r Repo) UpsertServiceConfig(ctx context.Context, serviceID string, cfg *config.Config) error {
	return upsertServiceConfig(ctx, r.DB, nil, serviceID, cfg)
}

func (r Repo) UpsertServiceConfigTx(ctx context.Context, tx *sql.Tx, serviceID string, cfg *config.Config) error {
	return upsertServiceConfig(ctx, nil, tx, serviceID, cfg)
}

func upsertServiceConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, serviceID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Service.ID = serviceID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO service_configs(service_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(service_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, serviceID, string(payload), now, now)
	return err
}

func (r Repo) GetServiceConfig(ctx context.Context, serviceID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM service_configs WHERE service_id=?`, serviceID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Service.ID == "" {
		cfg.Service.ID = serviceID
	}
	return &cfg, cfg.Validate()
}

// --- Events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, kind, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, kind)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,kind,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,kind,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
