package tenant

import (
	"errors"
	"strings"
	"testing"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		expectError bool
	}{
		{name: "simple", raw: "acme"},
		{name: "with separators", raw: "acme-corp.team_a"},
		{name: "leading digit", raw: "0acme"},
		{name: "empty", raw: "", expectError: true},
		{name: "uppercase", raw: "Acme", expectError: true},
		{name: "leading dash", raw: "-acme", expectError: true},
		{name: "whitespace", raw: "acme corp", expectError: true},
		{name: "sql metacharacters", raw: "acme'; drop table memories;--", expectError: true},
		{name: "too long", raw: strings.Repeat("a", MaxIDLength+1), expectError: true},
		{name: "max length", raw: strings.Repeat("a", MaxIDLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseID(tt.raw)

			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for %q, got nil", tt.raw)
				}
				if !errors.Is(err, ErrInvalidTenant) {
					t.Errorf("expected ErrInvalidTenant, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.String() != tt.raw {
				t.Errorf("expected %q, got %q", tt.raw, id)
			}
			if !id.Valid() {
				t.Errorf("parsed ID %q reports invalid", id)
			}
		})
	}
}

func TestParseAccessLevel(t *testing.T) {
	tests := []struct {
		raw         string
		expected    AccessLevel
		expectError bool
	}{
		{raw: "super", expected: AccessSuper},
		{raw: "shared", expected: AccessShared},
		{raw: "isolated", expected: AccessIsolated},
		{raw: "admin", expectError: true},
		{raw: "", expectError: true},
		{raw: "SUPER", expectError: true},
		{raw: "shared ", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			level, err := ParseAccessLevel(tt.raw)

			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for %q, got nil", tt.raw)
				}
				if !errors.Is(err, ErrInvalidTenant) {
					t.Errorf("expected ErrInvalidTenant, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if level != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, level)
			}
			if roundTrip, err := ParseAccessLevel(level.String()); err != nil || roundTrip != level {
				t.Errorf("String round-trip failed for %v", level)
			}
			if !level.Valid() {
				t.Errorf("parsed level %v reports invalid", level)
			}
		})
	}
}

func TestAccessLevelVisibility(t *testing.T) {
	if !AccessSuper.ReadsAllTenants() || AccessSuper.HonorsGrants() {
		t.Error("super must read everything without consulting grants")
	}
	if AccessShared.ReadsAllTenants() || !AccessShared.HonorsGrants() {
		t.Error("shared must read only itself plus granted tenants")
	}
	if AccessIsolated.ReadsAllTenants() || AccessIsolated.HonorsGrants() {
		t.Error("isolated must read only itself")
	}
}
