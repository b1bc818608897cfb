package access

// FactorKind names an authentication factor.
type FactorKind string

const (
	FactorPassword FactorKind = "password"
	FactorOTP      FactorKind = "otp"
)

// Role is what a user id resolves to: capabilities, key ownership and the
// factors that must all pass at authentication time.
type Role struct {
	Name        string
	Permissions Set
	Namespaces  NamespaceRule
	Factors     []FactorKind
}

// CanRead reports whether the role may read key.
func (r Role) CanRead(key string) bool {
	return r.Permissions.Has(ReadAll) ||
		(r.Permissions.Has(ReadLimited) && MatchesNamespace(r.Namespaces, key))
}

// CanWrite reports whether the role may create, change or delete key.
func (r Role) CanWrite(key string) bool {
	return r.Permissions.Has(WriteAll) ||
		(r.Permissions.Has(WriteLimited) && MatchesNamespace(r.Namespaces, key))
}

// CanList reports whether the role may list any keys at all.
func (r Role) CanList() bool {
	return r.Permissions.Has(ReadAll) || r.Permissions.Has(ReadLimited)
}

// Policy is the static role table keyed by user id.
type Policy struct {
	roles map[string]Role
}

// NewPolicy builds a policy from a user id to role table.
func NewPolicy(roles map[string]Role) *Policy {
	copied := make(map[string]Role, len(roles))
	for k, v := range roles {
		copied[k] = v
	}
	return &Policy{roles: copied}
}

// Lookup resolves a user id. Unknown users resolve to an empty role with no
// permissions and no factors, which can never authenticate.
func (p *Policy) Lookup(userID string) (Role, bool) {
	r, ok := p.roles[userID]
	return r, ok
}

// Users returns every configured user id.
func (p *Policy) Users() []string {
	out := make([]string, 0, len(p.roles))
	for k := range p.roles {
		out = append(out, k)
	}
	return out
}

// DefaultPolicy is the built-in three principal table: the Authority with
// every capability, a build agent that may touch everything outside the
// kill-switch namespace, and a runtime agent confined to its own namespace.
func DefaultPolicy(authority, builder, runtime string) *Policy {
	return NewPolicy(map[string]Role{
		authority: {
			Name:        "authority",
			Permissions: NewSet(ReadAll, WriteAll, Admin, Killswitch),
			Namespaces:  NamespaceRule{Allow: []string{"*"}},
			Factors:     []FactorKind{FactorPassword, FactorOTP},
		},
		builder: {
			Name:        "builder",
			Permissions: NewSet(ReadAll, WriteLimited),
			Namespaces:  NamespaceRule{Allow: []string{"*"}, Deny: []string{"killswitch"}},
			Factors:     []FactorKind{FactorPassword},
		},
		runtime: {
			Name:        "runtime",
			Permissions: NewSet(ReadLimited),
			Namespaces:  NamespaceRule{Allow: []string{"singularity"}},
			Factors:     []FactorKind{FactorPassword},
		},
	})
}
