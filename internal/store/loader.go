package store

import (
	"context"
	"fmt"

	"github.com/axisgate/axis/internal/logging"
	"github.com/axisgate/axis/internal/rbac"
	"github.com/axisgate/axis/internal/routes"
)

// Load hydrates the in-memory registry and authorization engine from the
// database. Called once at startup; the gateway never touches Postgres
// per request.
func (s *PostgresStore) Load(ctx context.Context, reg *routes.Registry, eng *rbac.Engine) error {
	perms, err := s.ListPermissions(ctx)
	if err != nil {
		return err
	}
	for _, p := range perms {
		if err := eng.AddPermission(p); err != nil {
			return fmt.Errorf("load permission %s: %w", p.ID, err)
		}
	}

	roles, err := s.ListRoles(ctx)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if err := eng.CreateRole(r); err != nil {
			return fmt.Errorf("load role %s: %w", r.ID, err)
		}
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if _, err := eng.CreateUser(u); err != nil {
			return fmt.Errorf("load user %s: %w", u.ID, err)
		}
	}

	rts, err := s.ListRoutes(ctx)
	if err != nil {
		return err
	}
	for _, route := range rts {
		if err := reg.Add(route); err != nil {
			return fmt.Errorf("load route %s %s: %w", route.Method, route.Path, err)
		}
	}

	logging.Op().Info("state loaded from postgres",
		"routes", len(rts), "permissions", len(perms), "roles", len(roles), "users", len(users))
	return nil
}
