package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is a DAC capability. Its value is the persistent role id.
type Role int

const (
	RoleMember Role = iota + 1
	RoleChairperson
	RoleAlumni
	RoleAdmin
	RoleResearcher
	RoleDataOwner
)

var roleNames = map[Role]string{
	RoleMember:      "Member",
	RoleChairperson: "Chairperson",
	RoleAlumni:      "Alumni",
	RoleAdmin:       "Admin",
	RoleResearcher:  "Researcher",
	RoleDataOwner:   "DataOwner",
}

// AllRoles lists every role in id order.
var AllRoles = []Role{RoleMember, RoleChairperson, RoleAlumni, RoleAdmin, RoleResearcher, RoleDataOwner}

// ID returns the role id used in the roles and user_role tables.
func (r Role) ID() int { return int(r) }

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole resolves a role name, ignoring case.
func ParseRole(name string) (Role, error) {
	name = strings.TrimSpace(name)
	for _, r := range AllRoles {
		if strings.EqualFold(roleNames[r], name) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", name)
}

// RoleFromID maps a persisted role id back to a Role.
func RoleFromID(id int) (Role, error) {
	r := Role(id)
	if !r.Valid() {
		return 0, fmt.Errorf("unknown role id %d", id)
	}
	return r, nil
}

// MarshalText encodes the role as its canonical name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText accepts any casing of a role name.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoleSet is an insertion-ordered set of roles.
type RoleSet struct {
	roles []Role
}

// NewRoleSet builds a set, dropping duplicates and keeping first-seen order.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s.Add(r)
	}
	return s
}

// Has reports whether r is in the set.
func (s RoleSet) Has(r Role) bool {
	for _, x := range s.roles {
		if x == r {
			return true
		}
	}
	return false
}

// HasAny reports whether any of rs is in the set.
func (s RoleSet) HasAny(rs ...Role) bool {
	for _, r := range rs {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Add inserts r and reports whether the set changed.
func (s *RoleSet) Add(r Role) bool {
	if s.Has(r) {
		return false
	}
	n := len(s.roles)
	s.roles = append(s.roles[:n:n], r)
	return true
}

// Remove deletes r and reports whether the set changed.
func (s *RoleSet) Remove(r Role) bool {
	for i, x := range s.roles {
		if x == r {
			s.roles = append(s.roles[:i:i], s.roles[i+1:]...)
			return true
		}
	}
	return false
}

// Minus returns the roles of s that are not in o, in s's order.
func (s RoleSet) Minus(o RoleSet) RoleSet {
	var out RoleSet
	for _, r := range s.roles {
		if !o.Has(r) {
			out.roles = append(out.roles, r)
		}
	}
	return out
}

// Union returns s followed by the roles of o not already in s.
func (s RoleSet) Union(o RoleSet) RoleSet {
	out := NewRoleSet(s.roles...)
	for _, r := range o.roles {
		out.Add(r)
	}
	return out
}

// Intersect returns the roles present in both sets, in s's order.
func (s RoleSet) Intersect(o RoleSet) RoleSet {
	var out RoleSet
	for _, r := range s.roles {
		if o.Has(r) {
			out.roles = append(out.roles, r)
		}
	}
	return out
}

// Equal reports whether both sets hold the same roles regardless of order.
func (s RoleSet) Equal(o RoleSet) bool {
	return s.Len() == o.Len() && s.Minus(o).Len() == 0
}

// Len returns the number of roles.
func (s RoleSet) Len() int { return len(s.roles) }

// Slice returns a copy of the roles in order.
func (s RoleSet) Slice() []Role {
	out := make([]Role, len(s.roles))
	copy(out, s.roles)
	return out
}

// Names returns the canonical role names in order.
func (s RoleSet) Names() []string {
	out := make([]string, len(s.roles))
	for i, r := range s.roles {
		out[i] = r.String()
	}
	return out
}

// MarshalJSON encodes the set as an array of role names.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	if s.roles == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.roles)
}

// UnmarshalJSON accepts an array of role names, or of {"name": ...} objects.
func (s *RoleSet) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = RoleSet{}
	for _, item := range raw {
		var r Role
		if err := json.Unmarshal(item, &r); err != nil {
			var obj struct {
				Name string `json:"name"`
			}
			if objErr := json.Unmarshal(item, &obj); objErr != nil || obj.Name == "" {
				return err
			}
			if r, err = ParseRole(obj.Name); err != nil {
				return err
			}
		}
		s.Add(r)
	}
	return nil
}
