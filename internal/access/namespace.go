package access

import "strings"

// NamespaceRule is the per-user key ownership rule consulted for limited
// permissions. Deny entries win over allow entries.
type NamespaceRule struct {
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny" json:"deny"`
}

// MatchesNamespace reports whether key falls inside rule. A prefix matches
// on a dot boundary: "tenant" and "tenant." both cover "tenant.key" and the
// bare key "tenant", never "tenantx.key". "*" covers every key.
func MatchesNamespace(rule NamespaceRule, key string) bool {
	for _, d := range rule.Deny {
		if prefixMatch(d, key) {
			return false
		}
	}
	for _, a := range rule.Allow {
		if prefixMatch(a, key) {
			return true
		}
	}
	return false
}

func prefixMatch(prefix, key string) bool {
	if prefix == "*" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "*")
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		return false
	}
	if key == prefix {
		return true
	}
	return strings.HasPrefix(key, prefix+".")
}
