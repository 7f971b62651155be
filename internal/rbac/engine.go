// Package rbac implements the authorization engine: permission, role and
// user catalogs plus live sessions. Permission resolution happens once, at
// session creation; per-request checks read a precomputed set, so role
// mutations never affect sessions that already exist.
package rbac

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axisgate/axis/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("rbac: user not found")
	ErrUserExists          = errors.New("rbac: user already exists")
	ErrUserInactive        = errors.New("rbac: user is not active")
	ErrRoleNotFound        = errors.New("rbac: role not found")
	ErrRoleExists          = errors.New("rbac: role already exists")
	ErrSystemRoleImmutable = errors.New("rbac: system roles cannot be modified")
	ErrPermissionNotFound  = errors.New("rbac: permission not found")
	ErrPermissionExists    = errors.New("rbac: permission already exists")
	ErrInvalidStatus       = errors.New("rbac: invalid user status")
)

// sessionState is a Session plus the lookup indexes compiled at creation
// so per-request checks run in O(1).
type sessionState struct {
	session    *domain.Session
	permByID   map[string]struct{}
	permByPair map[[2]string]struct{} // (resource, action)
	roleIDs    map[string]struct{}
	maxLevel   int
}

// Engine owns the RBAC catalogs and the live session map. All shared state
// is guarded by a single RWMutex; no lock is held across I/O.
type Engine struct {
	mu          sync.RWMutex
	permissions map[string]domain.Permission
	roles       map[string]domain.Role
	users       map[string]*domain.User
	sessions    map[string]*sessionState

	sessionTTL time.Duration // zero = sessions never expire
	closed     bool
	done       chan struct{}
}

// New creates an engine. sessionTTL of zero disables session expiry;
// otherwise a background sweep reclaims expired sessions once a minute.
func New(sessionTTL time.Duration) *Engine {
	e := &Engine{
		permissions: make(map[string]domain.Permission),
		roles:       make(map[string]domain.Role),
		users:       make(map[string]*domain.User),
		sessions:    make(map[string]*sessionState),
		sessionTTL:  sessionTTL,
		done:        make(chan struct{}),
	}
	if sessionTTL > 0 {
		go e.sweepLoop(time.Minute)
	}
	return e
}

// Close stops the session sweeper.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.done)
	}
	return nil
}

// ─── Permission catalog ─────────────────────────────────────────────────────

// AddPermission registers a permission. The catalog is expected to be
// populated at startup and left alone afterwards.
func (e *Engine) AddPermission(p domain.Permission) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.permissions[p.ID]; ok {
		return ErrPermissionExists
	}
	e.permissions[p.ID] = p
	return nil
}

// Permission returns the permission with the given ID.
func (e *Engine) Permission(id string) (domain.Permission, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.permissions[id]
	return p, ok
}

// Permissions returns the full permission catalog.
func (e *Engine) Permissions() []domain.Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Permission, 0, len(e.permissions))
	for _, p := range e.permissions {
		out = append(out, p)
	}
	return out
}

// ─── Role catalog ───────────────────────────────────────────────────────────

// CreateRole registers a role. Unknown permission IDs are rejected up
// front rather than silently dropped at session time.
func (e *Engine) CreateRole(r domain.Role) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.roles[r.ID]; ok {
		return ErrRoleExists
	}
	for _, pid := range r.PermissionIDs {
		if _, ok := e.permissions[pid]; !ok {
			return ErrPermissionNotFound
		}
	}
	e.roles[r.ID] = r
	return nil
}

// UpdateRole replaces a role definition. System roles are immutable.
// Existing sessions keep the role snapshot they were created with.
func (e *Engine) UpdateRole(r domain.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.roles[r.ID]
	if !ok {
		return ErrRoleNotFound
	}
	if cur.IsSystem {
		return ErrSystemRoleImmutable
	}
	for _, pid := range r.PermissionIDs {
		if _, ok := e.permissions[pid]; !ok {
			return ErrPermissionNotFound
		}
	}
	r.IsSystem = false // the flag itself cannot be granted after the fact
	e.roles[r.ID] = r
	return nil
}

// DeleteRole removes a role. System roles cannot be deleted. Users keep
// the dangling role ID; it is skipped at session creation.
func (e *Engine) DeleteRole(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.roles[id]
	if !ok {
		return ErrRoleNotFound
	}
	if cur.IsSystem {
		return ErrSystemRoleImmutable
	}
	delete(e.roles, id)
	return nil
}

// Role returns the role with the given ID.
func (e *Engine) Role(id string) (domain.Role, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.roles[id]
	return r, ok
}

// Roles returns the full role catalog.
func (e *Engine) Roles() []domain.Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Role, 0, len(e.roles))
	for _, r := range e.roles {
		out = append(out, r)
	}
	return out
}

// ─── User catalog ───────────────────────────────────────────────────────────

// CreateUser registers a user. An empty status defaults to active.
func (e *Engine) CreateUser(u domain.User) (domain.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = domain.UserActive
	}
	if !domain.ValidUserStatus(u.Status) {
		return domain.User{}, ErrInvalidStatus
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.users[u.ID]; ok {
		return domain.User{}, ErrUserExists
	}
	cp := u
	cp.RoleIDs = append([]string(nil), u.RoleIDs...)
	e.users[u.ID] = &cp
	return u, nil
}

// UpdateUser applies fn to a copy of the user and swaps it in.
func (e *Engine) UpdateUser(id string, fn func(*domain.User)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.users[id]
	if !ok {
		return ErrUserNotFound
	}
	cp := *cur
	cp.RoleIDs = append([]string(nil), cur.RoleIDs...)
	fn(&cp)
	cp.ID = id
	if !domain.ValidUserStatus(cp.Status) {
		return ErrInvalidStatus
	}
	e.users[id] = &cp
	return nil
}

// DeleteUser removes a user. Existing sessions survive until destroyed or
// expired; calling twice returns true then false.
func (e *Engine) DeleteUser(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.users[id]; !ok {
		return false
	}
	delete(e.users, id)
	return true
}

// User returns a copy of the user with the given ID.
func (e *Engine) User(id string) (domain.User, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	u, ok := e.users[id]
	if !ok {
		return domain.User{}, false
	}
	return *u, true
}

// Users returns copies of all users.
func (e *Engine) Users() []domain.User {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.User, 0, len(e.users))
	for _, u := range e.users {
		out = append(out, *u)
	}
	return out
}

// ─── Sessions ───────────────────────────────────────────────────────────────

// CreateSession logs a user in. The user's roles are resolved against the
// current catalog (role IDs that no longer exist are skipped) and the
// permission union is computed once, de-duplicated by permission ID.
// LastLoginAt is stamped on success.
func (e *Engine) CreateSession(userID string) (*domain.Session, error) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	user, ok := e.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if user.Status != domain.UserActive {
		return nil, ErrUserInactive
	}

	state := &sessionState{
		permByID:   make(map[string]struct{}),
		permByPair: make(map[[2]string]struct{}),
		roleIDs:    make(map[string]struct{}),
	}

	var roles []domain.Role
	var perms []domain.Permission
	for _, rid := range user.RoleIDs {
		role, ok := e.roles[rid]
		if !ok {
			continue
		}
		roles = append(roles, role)
		state.roleIDs[role.ID] = struct{}{}
		if role.Level > state.maxLevel {
			state.maxLevel = role.Level
		}
		for _, pid := range role.PermissionIDs {
			if _, seen := state.permByID[pid]; seen {
				continue
			}
			perm, ok := e.permissions[pid]
			if !ok {
				continue
			}
			state.permByID[pid] = struct{}{}
			state.permByPair[[2]string{perm.Resource, perm.Action}] = struct{}{}
			perms = append(perms, perm)
		}
	}

	user.LastLoginAt = &now

	sess := &domain.Session{
		ID:          uuid.NewString(),
		User:        *user,
		Roles:       roles,
		Permissions: perms,
		CreatedAt:   now,
	}
	if e.sessionTTL > 0 {
		sess.ExpiresAt = now.Add(e.sessionTTL)
	}
	state.session = sess
	e.sessions[sess.ID] = state

	return sess, nil
}

// Session returns the session with the given ID, or nil if it is unknown
// or expired. Expired sessions are reclaimed lazily here and by the sweep.
func (e *Engine) Session(id string) *domain.Session {
	now := time.Now()

	e.mu.RLock()
	state, ok := e.sessions[id]
	e.mu.RUnlock()

	if !ok {
		return nil
	}
	if state.session.Expired(now) {
		e.mu.Lock()
		if cur, still := e.sessions[id]; still && cur.session.Expired(now) {
			delete(e.sessions, id)
		}
		e.mu.Unlock()
		return nil
	}
	return state.session
}

// DestroySession logs a session out. Returns false if it was not live.
func (e *Engine) DestroySession(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[id]; !ok {
		return false
	}
	delete(e.sessions, id)
	return true
}

// SessionCount reports the number of live sessions (expired ones not yet
// swept included). Used for the active-session gauge.
func (e *Engine) SessionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// HasPermission reports whether the session holds the permission ID.
// Unknown or expired sessions answer false, never an error.
func (e *Engine) HasPermission(sessionID, permissionID string) bool {
	state := e.liveState(sessionID)
	if state == nil {
		return false
	}
	_, ok := state.permByID[permissionID]
	return ok
}

// HasResourcePermission matches by (resource, action) pair, for callers
// that do not know the exact permission ID.
func (e *Engine) HasResourcePermission(sessionID, resource, action string) bool {
	state := e.liveState(sessionID)
	if state == nil {
		return false
	}
	_, ok := state.permByPair[[2]string{resource, action}]
	return ok
}

// HasRole reports whether the session was created holding the role ID.
func (e *Engine) HasRole(sessionID, roleID string) bool {
	state := e.liveState(sessionID)
	if state == nil {
		return false
	}
	_, ok := state.roleIDs[roleID]
	return ok
}

// HasRoleLevel reports whether any of the session's roles has a level of
// at least minLevel.
func (e *Engine) HasRoleLevel(sessionID string, minLevel int) bool {
	state := e.liveState(sessionID)
	if state == nil {
		return false
	}
	return state.maxLevel >= minLevel
}

func (e *Engine) liveState(sessionID string) *sessionState {
	e.mu.RLock()
	state, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok || state.session.Expired(time.Now()) {
		return nil
	}
	return state
}

func (e *Engine) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			now := time.Now()
			e.mu.Lock()
			for id, state := range e.sessions {
				if state.session.Expired(now) {
					delete(e.sessions, id)
				}
			}
			e.mu.Unlock()
		}
	}
}
