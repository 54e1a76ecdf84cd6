package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Roles known to the point-of-sale back office.
const (
	RoleStaff   = "STAFF"
	RoleKitchen = "KITCHEN"
	RoleManager = "MANAGER"
	RoleAdmin   = "ADMIN"
)

// DefaultLines is the production hierarchy configuration, lowest priority first.
var DefaultLines = [][]string{
	{RoleStaff, RoleManager, RoleAdmin},
	{RoleKitchen, RoleAdmin},
	{RoleManager, RoleAdmin},
}

// Hierarchies is an immutable ordered set of role lines.
type Hierarchies struct {
	// lines[i][role] is the priority of role within hierarchy i.
	lines []map[string]int
	known map[string]struct{}
}

// BuildHierarchies turns ordered role lists into a lookup structure. Within a
// list a later role outranks an earlier one. Lists are consulted in the order
// given. Empty lists, blank roles and a role repeated inside one list are
// rejected.
func BuildHierarchies(lines [][]string) (*Hierarchies, error) {
	if len(lines) == 0 {
		return nil, errors.New("permission: at least one hierarchy is required")
	}
	h := &Hierarchies{
		lines: make([]map[string]int, 0, len(lines)),
		known: make(map[string]struct{}),
	}
	for i, line := range lines {
		if len(line) == 0 {
			return nil, fmt.Errorf("permission: hierarchy %d is empty", i)
		}
		priorities := make(map[string]int, len(line))
		for p, role := range line {
			role = strings.TrimSpace(role)
			if role == "" {
				return nil, fmt.Errorf("permission: hierarchy %d has a blank role", i)
			}
			if _, dup := priorities[role]; dup {
				return nil, fmt.Errorf("permission: role %q repeated in hierarchy %d", role, i)
			}
			priorities[role] = p
			h.known[role] = struct{}{}
		}
		h.lines = append(h.lines, priorities)
	}
	return h, nil
}

// DefaultHierarchies builds DefaultLines.
func DefaultHierarchies() *Hierarchies {
	h, err := BuildHierarchies(DefaultLines)
	if err != nil {
		panic(err)
	}
	return h
}

// IsAuthorized reports whether current satisfies required: true as soon as one
// hierarchy contains both roles with current ranked at or above required.
func (h *Hierarchies) IsAuthorized(current, required string) bool {
	if h == nil {
		return false
	}
	for _, line := range h.lines {
		cp, okCurrent := line[current]
		rp, okRequired := line[required]
		if okCurrent && okRequired && cp >= rp {
			return true
		}
	}
	return false
}

// IsAuthorizedAny reports whether current satisfies at least one of required.
func (h *Hierarchies) IsAuthorizedAny(current string, required ...string) bool {
	for _, r := range required {
		if h.IsAuthorized(current, r) {
			return true
		}
	}
	return false
}

// Priority returns the rank of role within hierarchy index, and false when the
// role is not a member or the index is out of range.
func (h *Hierarchies) Priority(index int, role string) (int, bool) {
	if h == nil || index < 0 || index >= len(h.lines) {
		return 0, false
	}
	p, ok := h.lines[index][role]
	return p, ok
}

// Len is the number of hierarchies.
func (h *Hierarchies) Len() int {
	if h == nil {
		return 0
	}
	return len(h.lines)
}

// Known reports whether role appears in any hierarchy.
func (h *Hierarchies) Known(role string) bool {
	if h == nil {
		return false
	}
	_, ok := h.known[role]
	return ok
}
