package policy

import (
	"testing"
)

func TestResolverConnectionPattern(t *testing.T) {
	r := NewResolver()

	// Register connection tools
	r.RegisterConnectionServer("phone", []string{"camera", "location", "contacts"})

	tests := []struct {
		name    string
		policy  *Policy
		tool    string
		allowed bool
		reason  string
	}{
		{
			name:    "connection tool allowed by wildcard",
			policy:  NewPolicy(ProfileMinimal).WithAllow("conn:phone.*"),
			tool:    "conn:phone.camera",
			allowed: true,
			reason:  "allowed by rule: conn:phone.camera", // Expanded from wildcard
		},
		{
			name:    "connection tool allowed by exact match",
			policy:  NewPolicy(ProfileMinimal).WithAllow("conn:phone.camera"),
			tool:    "conn:phone.camera",
			allowed: true,
			reason:  "allowed by rule: conn:phone.camera",
		},
		{
			name:    "connection tool denied by wildcard",
			policy:  NewPolicy(ProfileFull).WithDeny("conn:*"),
			tool:    "conn:phone.camera",
			allowed: false,
			reason:  "denied by rule: conn:*",
		},
		{
			name:    "connection tool denied by server wildcard",
			policy:  NewPolicy(ProfileFull).WithDeny("conn:phone.*"),
			tool:    "conn:phone.location",
			allowed: false,
			reason:  "denied by rule: conn:phone.location", // Expanded from wildcard
		},
		{
			name:    "connection tool not allowed when not in allow list",
			policy:  NewPolicy(ProfileMinimal),
			tool:    "conn:phone.camera",
			allowed: false,
			reason:  "no matching allow rule",
		},
		{
			name:    "connection tool allowed by full profile",
			policy:  NewPolicy(ProfileFull),
			tool:    "conn:phone.camera",
			allowed: true,
			reason:  "allowed by profile full",
		},
		{
			name:    "all connection tools allowed",
			policy:  NewPolicy(ProfileMinimal).WithAllow("conn:*"),
			tool:    "conn:phone.contacts",
			allowed: true,
			reason:  "allowed by rule: conn:*",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := r.Decide(tt.policy, tt.tool)
			if decision.Allowed != tt.allowed {
				t.Errorf("expected allowed=%v, got %v (reason: %s)", tt.allowed, decision.Allowed, decision.Reason)
			}
			if decision.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, decision.Reason)
			}
		})
	}
}

func TestResolverExpandConnectionGroups(t *testing.T) {
	r := NewResolver()

	// Register connection server
	r.RegisterConnectionServer("laptop", []string{"screen_capture", "clipboard", "keylogger"})

	// Test wildcard expansion
	expanded := r.ExpandGroups([]string{"conn:laptop.*"})
	if len(expanded) != 3 {
		t.Errorf("expected 3 tools, got %d: %v", len(expanded), expanded)
	}

	// Verify canonical names
	expected := map[string]bool{
		"conn:laptop.screen_capture": true,
		"conn:laptop.clipboard":      true,
		"conn:laptop.keylogger":      true,
	}
	for _, tool := range expanded {
		if !expected[tool] {
			t.Errorf("unexpected tool in expansion: %s", tool)
		}
	}
}

func TestResolverConnectionProviderKey(t *testing.T) {
	tests := []struct {
		tool     string
		expected string
	}{
		{"conn:phone.camera", "conn:phone"},
		{"conn:laptop.clipboard", "conn:laptop"},
		{"conn:", "connection"},
		{"mcp:fs.read", "mcp:fs"},
		{"browser", "beacon"},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			got := toolProviderKey(tt.tool)
			if got != tt.expected {
				t.Errorf("toolProviderKey(%s) = %s, want %s", tt.tool, got, tt.expected)
			}
		})
	}
}

func TestMatchToolPattern(t *testing.T) {
	tests := []struct {
		pattern  string
		tool     string
		expected bool
	}{
		// Universal wildcard
		{"*", "anything", true},
		{"*", "mcp:fs.read", true},
		{"*", "conn:phone.camera", true},

		// Source wildcards
		{"mcp:*", "mcp:fs.read", true},
		{"mcp:*", "conn:phone.camera", false},
		{"conn:*", "conn:phone.camera", true},
		{"conn:*", "mcp:fs.read", false},
		{"core.*", "core.browser", true},
		{"core.*", "browser", true}, // Unqualified = core
		{"core.*", "mcp:fs.read", false},

		// Namespace wildcards
		{"mcp:fs.*", "mcp:fs.read", true},
		{"mcp:fs.*", "mcp:fs.write", true},
		{"mcp:fs.*", "mcp:git.commit", false},
		{"conn:phone.*", "conn:phone.camera", true},
		{"conn:phone.*", "conn:laptop.camera", false},

		// Exact matches
		{"mcp:fs.read", "mcp:fs.read", true},
		{"mcp:fs.read", "mcp:fs.write", false},
		{"conn:phone.camera", "conn:phone.camera", true},
		{"conn:phone.camera", "conn:phone.location", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.tool, func(t *testing.T) {
			if got := matchToolPattern(tt.pattern, tt.tool); got != tt.expected {
				t.Errorf("matchToolPattern(%s, %s) = %v, want %v", tt.pattern, tt.tool, got, tt.expected)
			}
		})
	}
}

func TestPolicyBuilderConnection(t *testing.T) {
	// Test that policy can be used with connection tools
	policy := NewPolicy(ProfileMinimal).
		WithAllow("mcp:filesystem.*", "browser", "conn:phone.*")

	r := NewResolver()
	r.RegisterConnectionServer("phone", []string{"camera"})

	if !r.IsAllowed(policy, "conn:phone.camera") {
		t.Error("expected connection tool to be allowed")
	}
}

func TestResolverUnregisterConnection(t *testing.T) {
	r := NewResolver()

	// Register
	r.RegisterConnectionServer("device", []string{"tool1", "tool2"})

	// Verify group exists
	if _, ok := r.groups["conn:device"]; !ok {
		t.Error("expected connection group to exist")
	}

	// Unregister
	r.UnregisterConnectionServer("device")

	// Verify group is gone
	if _, ok := r.groups["conn:device"]; ok {
		t.Error("expected connection group to be removed")
	}
}
