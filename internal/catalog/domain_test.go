package catalog

import (
	"errors"
	"testing"

	"github.com/aegis-platform/aegis/internal/shared"
)

func TestParseName(t *testing.T) {
	cases := []struct {
		name     string
		resource string
		action   string
		context  string
		wantErr  bool
	}{
		{name: "users.read", resource: "users", action: "read"},
		{name: "files.delete.own", resource: "files", action: "delete", context: "own"},
		{name: "reports.read.department", resource: "reports", action: "read", context: "department"},
		{name: "users", wantErr: true},
		{name: "a.b.c.d", wantErr: true},
		{name: "files.read.global", wantErr: true},
		{name: ".read", wantErr: true},
		{name: "files.", wantErr: true},
	}
	for _, tc := range cases {
		resource, action, permCtx, err := ParseName(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			if !errors.Is(err, shared.ErrValidation) {
				t.Fatalf("%s: expected validation error, got %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if resource != tc.resource || action != tc.action || permCtx != tc.context {
			t.Fatalf("%s: got (%s, %s, %s)", tc.name, resource, action, permCtx)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("users", "read", ContextAny); got != "users.read" {
		t.Fatalf("expected users.read, got %s", got)
	}
	if got := DisplayName("users", "read", ""); got != "users.read" {
		t.Fatalf("expected users.read, got %s", got)
	}
	if got := DisplayName("files", "delete", ContextOwn); got != "files.delete.own" {
		t.Fatalf("expected files.delete.own, got %s", got)
	}
}

func TestDefaultEntriesCoverAuditRead(t *testing.T) {
	var found bool
	for _, entry := range DefaultEntries() {
		if entry.Resource == ResourceAudit && entry.Action == ActionRead {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected audit.read in default catalog")
	}
}
