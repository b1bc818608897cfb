package app

import (
	"fmt"

	"steward/internal/access"
	"steward/internal/platform/config"
)

// Policy builds the access role table and the password hash table from
// cfg. Without configured users the built-in table is used, with no password
// hashes, so only OTP-only roles could authenticate.
func Policy(cfg *config.Config) (*access.Policy, map[string]string, error) {
	hashes := map[string]string{}
	if len(cfg.Access.Users) == 0 {
		return access.DefaultPolicy(cfg.Access.Authority, "genesis", "singularity"), hashes, nil
	}
	roles := make(map[string]access.Role, len(cfg.Access.Users))
	for id, u := range cfg.Access.Users {
		perms, err := access.ParseSet(u.Permissions)
		if err != nil {
			return nil, nil, fmt.Errorf("user %s: %w", id, err)
		}
		factors := make([]access.FactorKind, len(u.Factors))
		for i, f := range u.Factors {
			factors[i] = access.FactorKind(f)
		}
		roles[id] = access.Role{
			Name:        u.Role,
			Permissions: perms,
			Namespaces:  access.NamespaceRule{Allow: u.Allow, Deny: u.Deny},
			Factors:     factors,
		}
		if u.PasswordHash != "" {
			hashes[id] = u.PasswordHash
		}
	}
	return access.NewPolicy(roles), hashes, nil
}
