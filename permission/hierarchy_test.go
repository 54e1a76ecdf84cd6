package permission

import "testing"

func TestDefaultHierarchyDecisions(t *testing.T) {
	h := DefaultHierarchies()

	cases := []struct {
		current, required string
		want              bool
	}{
		{RoleAdmin, RoleStaff, true},
		{RoleAdmin, RoleKitchen, true},
		{RoleManager, RoleStaff, true},
		{RoleManager, RoleManager, true},
		{RoleStaff, RoleManager, false},
		{RoleKitchen, RoleManager, false},
		{RoleKitchen, RoleStaff, false},
		{RoleStaff, RoleKitchen, false},
		{RoleKitchen, RoleKitchen, true},
		{RoleManager, RoleKitchen, false},
		{RoleManager, RoleAdmin, false},
		{"GUEST", RoleStaff, false},
		{"GUEST", "GUEST", false},
	}
	for _, tc := range cases {
		if got := h.IsAuthorized(tc.current, tc.required); got != tc.want {
			t.Fatalf("IsAuthorized(%s, %s) = %v, want %v", tc.current, tc.required, got, tc.want)
		}
	}
}

func TestFirstMatchAcrossOverlappingLines(t *testing.T) {
	// B outranks A in the first line and A outranks B in the second.
	h, err := BuildHierarchies([][]string{{"A", "B"}, {"B", "A"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !h.IsAuthorized("B", "A") || !h.IsAuthorized("A", "B") {
		t.Fatal("expected each role to be satisfied through some line")
	}
}

func TestMonotonicWithinLine(t *testing.T) {
	h := DefaultHierarchies()
	for i := 0; i < h.Len(); i++ {
		for _, a := range []string{RoleStaff, RoleKitchen, RoleManager, RoleAdmin} {
			pa, ok := h.Priority(i, a)
			if !ok {
				continue
			}
			for _, b := range []string{RoleStaff, RoleKitchen, RoleManager, RoleAdmin} {
				if !h.IsAuthorized(a, b) {
					continue
				}
				for _, c := range []string{RoleStaff, RoleKitchen, RoleManager, RoleAdmin} {
					if pc, ok := h.Priority(i, c); ok && pc >= pa && !h.IsAuthorized(c, b) {
						t.Fatalf("line %d: %s authorizes %s but higher %s does not", i, a, b, c)
					}
				}
			}
		}
	}
}

func TestIsAuthorizedAny(t *testing.T) {
	h := DefaultHierarchies()
	if !h.IsAuthorizedAny(RoleKitchen, RoleManager, RoleKitchen) {
		t.Fatal("expected KITCHEN to satisfy one of MANAGER, KITCHEN")
	}
	if h.IsAuthorizedAny(RoleStaff) {
		t.Fatal("expected empty requirement list to deny")
	}
}

func TestBuildHierarchiesRejectsBadInput(t *testing.T) {
	bad := map[string][][]string{
		"no lines":      nil,
		"empty line":    {{}},
		"blank role":    {{"STAFF", " "}},
		"repeated role": {{"STAFF", "STAFF"}},
	}
	for name, lines := range bad {
		if _, err := BuildHierarchies(lines); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestBuildDoesNotAliasInput(t *testing.T) {
	lines := [][]string{{"STAFF", "ADMIN"}}
	h, err := BuildHierarchies(lines)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	lines[0][0] = "ADMIN"
	lines[0][1] = "STAFF"
	if !h.IsAuthorized("ADMIN", "STAFF") {
		t.Fatal("hierarchy changed after mutating the input slice")
	}
}

func TestNilHierarchiesDeny(t *testing.T) {
	var h *Hierarchies
	if h.IsAuthorized(RoleAdmin, RoleAdmin) || h.Known(RoleAdmin) || h.Len() != 0 {
		t.Fatal("nil hierarchies must deny")
	}
}
