package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/axisgate/axis/internal/domain"
)

var (
	ErrSystemRole = errors.New("store: system roles cannot be modified")
)

// ─── Permissions ────────────────────────────────────────────────────────────

func (s *PostgresStore) CreatePermission(ctx context.Context, p domain.Permission) (domain.Permission, error) {
	if strings.TrimSpace(p.Name) == "" {
		return domain.Permission{}, fmt.Errorf("permission name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rbac_permissions (id, name, resource, action, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, p.ID, p.Name, p.Resource, p.Action, p.Description)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate key") {
			return domain.Permission{}, fmt.Errorf("permission already exists: %s", p.ID)
		}
		return domain.Permission{}, fmt.Errorf("create permission: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, resource, action, description
		FROM rbac_permissions ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Permission, 0)
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeletePermission(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rbac_permissions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete permission: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ─── Roles ──────────────────────────────────────────────────────────────────

func (s *PostgresStore) CreateRole(ctx context.Context, r domain.Role) (domain.Role, error) {
	if strings.TrimSpace(r.Name) == "" {
		return domain.Role{}, fmt.Errorf("role name is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Role{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO rbac_roles (id, name, description, level, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`, r.ID, r.Name, r.Description, r.Level, r.IsSystem)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate key") {
			return domain.Role{}, fmt.Errorf("role already exists: %s", r.Name)
		}
		return domain.Role{}, fmt.Errorf("create role: %w", err)
	}
	for _, pid := range r.PermissionIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rbac_role_permissions (role_id, permission_id) VALUES ($1, $2)
		`, r.ID, pid); err != nil {
			return domain.Role{}, fmt.Errorf("attach permission %s: %w", pid, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Role{}, fmt.Errorf("commit: %w", err)
	}
	return r, nil
}

// UpdateRole replaces a role's definition and permission set. System
// roles are refused at the SQL level.
func (s *PostgresStore) UpdateRole(ctx context.Context, r domain.Role) error {
	if r.ID == "" {
		return fmt.Errorf("role id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE rbac_roles SET name = $2, description = $3, level = $4, updated_at = NOW()
		WHERE id = $1 AND is_system = FALSE
	`, r.ID, r.Name, r.Description, r.Level)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if s.roleExists(ctx, r.ID) {
			return ErrSystemRole
		}
		return fmt.Errorf("role not found: %s", r.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rbac_role_permissions WHERE role_id = $1`, r.ID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	for _, pid := range r.PermissionIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rbac_role_permissions (role_id, permission_id) VALUES ($1, $2)
		`, r.ID, pid); err != nil {
			return fmt.Errorf("attach permission %s: %w", pid, err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteRole removes a non-system role, reporting whether it existed.
func (s *PostgresStore) DeleteRole(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM rbac_roles WHERE id = $1 AND is_system = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 && s.roleExists(ctx, id) {
		return false, ErrSystemRole
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) roleExists(ctx context.Context, id string) bool {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM rbac_roles WHERE id = $1`, id).Scan(&one)
	return err == nil
}

// ListRoles returns all roles with their permission IDs populated.
func (s *PostgresStore) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, r.description, r.level, r.is_system,
		       COALESCE(array_agg(rp.permission_id) FILTER (WHERE rp.permission_id IS NOT NULL), '{}')
		FROM rbac_roles r
		LEFT JOIN rbac_role_permissions rp ON rp.role_id = r.id
		GROUP BY r.id
		ORDER BY r.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Role, 0)
	for rows.Next() {
		var r domain.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Level, &r.IsSystem, &r.PermissionIDs); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ─── Users ──────────────────────────────────────────────────────────────────

func (s *PostgresStore) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if strings.TrimSpace(u.Username) == "" {
		return domain.User{}, fmt.Errorf("username is required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = domain.UserActive
	}
	if !domain.ValidUserStatus(u.Status) {
		return domain.User{}, fmt.Errorf("invalid user status: %s", u.Status)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO rbac_users (id, username, email, status, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Username, u.Email, string(u.Status), u.CreatedAt, u.LastLoginAt)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate key") {
			return domain.User{}, fmt.Errorf("user already exists: %s", u.Username)
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	for _, rid := range u.RoleIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rbac_user_roles (user_id, role_id) VALUES ($1, $2)
		`, u.ID, rid); err != nil {
			return domain.User{}, fmt.Errorf("assign role %s: %w", rid, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

// UpdateUserStatus flips a user's lifecycle state.
func (s *PostgresStore) UpdateUserStatus(ctx context.Context, id string, status domain.UserStatus) error {
	if !domain.ValidUserStatus(status) {
		return fmt.Errorf("invalid user status: %s", status)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE rbac_users SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// TouchLastLogin stamps the user's last login time.
func (s *PostgresStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE rbac_users SET last_login_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rbac_users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT u.id, u.username, u.email, u.status, u.created_at, u.last_login_at,
		       COALESCE(array_agg(ur.role_id) FILTER (WHERE ur.role_id IS NOT NULL), '{}')
		FROM rbac_users u
		LEFT JOIN rbac_user_roles ur ON ur.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id
	`, id).Scan(&u.ID, &u.Username, &u.Email, &status, &u.CreatedAt, &u.LastLoginAt, &u.RoleIDs)
	if err == pgx.ErrNoRows {
		return domain.User{}, fmt.Errorf("user not found: %s", id)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	u.Status = domain.UserStatus(status)
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.username, u.email, u.status, u.created_at, u.last_login_at,
		       COALESCE(array_agg(ur.role_id) FILTER (WHERE ur.role_id IS NOT NULL), '{}')
		FROM rbac_users u
		LEFT JOIN rbac_user_roles ur ON ur.user_id = u.id
		GROUP BY u.id
		ORDER BY u.username
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		var status string
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &status, &u.CreatedAt, &u.LastLoginAt, &u.RoleIDs); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Status = domain.UserStatus(status)
		out = append(out, u)
	}
	return out, rows.Err()
}
