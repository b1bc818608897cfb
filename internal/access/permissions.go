package access

import (
	"fmt"
	"strings"
)

// Permission is a single capability bit.
type Permission uint8

const (
	ReadAll Permission = 1 << iota
	ReadLimited
	WriteAll
	WriteLimited
	Admin
	Killswitch
)

var permissionNames = []struct {
	perm Permission
	name string
}{
	{ReadAll, "read_all"},
	{ReadLimited, "read_limited"},
	{WriteAll, "write_all"},
	{WriteLimited, "write_limited"},
	{Admin, "admin"},
	{Killswitch, "killswitch"},
}

func (p Permission) String() string {
	for _, pn := range permissionNames {
		if pn.perm == p {
			return pn.name
		}
	}
	return fmt.Sprintf("permission(%d)", uint8(p))
}

// ParsePermission maps a config name such as "write_limited" to its bit.
func ParsePermission(name string) (Permission, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, pn := range permissionNames {
		if pn.name == name {
			return pn.perm, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", name)
}

// Set is an immutable permission bitset.
type Set uint8

// NewSet builds a set from individual permissions.
func NewSet(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s |= Set(p)
	}
	return s
}

// Has reports whether p is in the set.
func (s Set) Has(p Permission) bool { return s&Set(p) != 0 }

// Names returns the permission names in declaration order.
func (s Set) Names() []string {
	var out []string
	for _, pn := range permissionNames {
		if s.Has(pn.perm) {
			out = append(out, pn.name)
		}
	}
	return out
}

// ParseSet parses a list of permission names.
func ParseSet(names []string) (Set, error) {
	var s Set
	for _, n := range names {
		p, err := ParsePermission(n)
		if err != nil {
			return 0, err
		}
		s |= Set(p)
	}
	return s, nil
}
