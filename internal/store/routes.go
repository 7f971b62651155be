package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/axisgate/axis/internal/domain"
)

// ErrRouteExists is returned when a route with the same method+path is
// already stored.
var ErrRouteExists = errors.New("store: route already exists")

// CreateRoute persists a route. The full route is stored as JSONB;
// method, path and enabled are lifted into columns for lookup.
func (s *PostgresStore) CreateRoute(ctx context.Context, route *domain.Route) (*domain.Route, error) {
	if route == nil || route.Method == "" || route.Path == "" {
		return nil, fmt.Errorf("route method and path are required")
	}
	cp := route.Clone()
	cp.Method = strings.ToUpper(cp.Method)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal route: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO routes (id, method, path, enabled, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, cp.ID, cp.Method, cp.Path, cp.Enabled, data, cp.CreatedAt, cp.UpdatedAt)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate key") {
			return nil, ErrRouteExists
		}
		return nil, fmt.Errorf("create route: %w", err)
	}
	return cp, nil
}

// UpdateRoute replaces a stored route by ID.
func (s *PostgresStore) UpdateRoute(ctx context.Context, route *domain.Route) error {
	if route == nil || route.ID == "" {
		return fmt.Errorf("route id is required")
	}
	cp := route.Clone()
	cp.Method = strings.ToUpper(cp.Method)
	cp.UpdatedAt = time.Now()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal route: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE routes SET method = $2, path = $3, enabled = $4, data = $5, updated_at = $6
		WHERE id = $1
	`, cp.ID, cp.Method, cp.Path, cp.Enabled, data, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("route not found: %s", cp.ID)
	}
	return nil
}

// DeleteRoute removes a route, reporting whether it existed.
func (s *PostgresStore) DeleteRoute(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM routes WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete route: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetRoute fetches one route by ID.
func (s *PostgresStore) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM routes WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("route not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	return unmarshalRoute(data)
}

// ListRoutes returns all stored routes ordered by path.
func (s *PostgresStore) ListRoutes(ctx context.Context) ([]*domain.Route, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM routes ORDER BY path, method`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Route, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		route, err := unmarshalRoute(data)
		if err != nil {
			return nil, err
		}
		out = append(out, route)
	}
	return out, rows.Err()
}

func unmarshalRoute(data []byte) (*domain.Route, error) {
	var route domain.Route
	if err := json.Unmarshal(data, &route); err != nil {
		return nil, fmt.Errorf("unmarshal route: %w", err)
	}
	return &route, nil
}
