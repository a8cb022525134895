package security

import (
	"strings"
	"testing"
)

func TestCommandPolicy_Validate(t *testing.T) {
	policy := NewCommandPolicy(nil)

	tests := []struct {
		name    string
		cmd     []string
		wantErr string
	}{
		{"allowed command", []string{"npm", "update"}, ""},
		{"allowed with flags", []string{"git", "pull", "-f", "origin", "main"}, ""},
		{"empty", nil, "empty command"},
		{"not allowed", []string{"rm", "-rf", "/"}, "not allowed"},
		{"absolute path", []string{"/usr/bin/git", "pull"}, "not allowed"},
		{"chained", []string{"git", "pull", "&&", "npm", "install"}, "metacharacters"},
		{"substitution", []string{"npm", "install", "$(id)"}, "metacharacters"},
		{"redirect", []string{"git", "log", ">", "out"}, "metacharacters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Validate(tt.cmd)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected command to pass, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCommandPolicy_CustomList(t *testing.T) {
	policy := NewCommandPolicy([]string{"make"})

	if err := policy.Validate([]string{"make", "site"}); err != nil {
		t.Errorf("Expected make to be allowed, got %v", err)
	}
	if err := policy.Validate([]string{"git", "status"}); err == nil {
		t.Error("Expected git to be rejected by a custom list")
	}
	if got := policy.Allowed(); len(got) != 1 || got[0] != "make" {
		t.Errorf("Allowed() = %v", got)
	}
}

func TestCommandPolicy_AllowShellMetachars(t *testing.T) {
	policy := NewCommandPolicy(nil)
	policy.AllowShellMetachars = true

	if err := policy.Validate([]string{"git", "log", "--format=%H (%an)"}); err != nil {
		t.Errorf("Expected metacharacters to be accepted, got %v", err)
	}
}
