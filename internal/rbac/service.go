package rbac

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound indicates that the requested role does not exist.
var ErrNotFound = errors.New("rbac: role not found")

// Service resolves role permissions from an in-memory table.
type Service struct {
	roles map[string][]string
}

// NewService constructs a Service over roles; nil uses DefaultRoles.
func NewService(roles []Role) *Service {
	if roles == nil {
		roles = DefaultRoles()
	}
	table := make(map[string][]string, len(roles))
	for _, role := range roles {
		perms := make([]string, 0, len(role.Permissions))
		for _, p := range role.Permissions {
			perms = append(perms, strings.ToLower(strings.TrimSpace(p)))
		}
		table[normalizeRole(role.Name)] = perms
	}
	return &Service{roles: table}
}

// EffectivePermissions returns the permissions granted to role.
func (s *Service) EffectivePermissions(_ context.Context, role string) ([]string, error) {
	perms, ok := s.roles[normalizeRole(role)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out, nil
}
