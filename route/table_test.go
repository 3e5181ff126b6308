package route

import (
	"testing"

	"github.com/impactlog/impactlog/session"
)

func TestDefaultTableResolve(t *testing.T) {
	table := DefaultTable()
	anon := session.Snapshot{}
	user := authenticated(session.RoleUser)
	admin := authenticated(session.RoleAdmin)

	cases := []struct {
		path string
		snap session.Snapshot
		want Decision
	}{
		{"/", anon, Decision{Kind: Render}},
		{"/live-maps", anon, Decision{Kind: Render}},
		{"/impact-stats/", anon, Decision{Kind: Render}},
		{"/community-activity?page=2", anon, Decision{Kind: Render}},
		{"/dashboard", anon, Decision{Kind: Redirect, Path: "/login"}},
		{"/dashboard", user, Decision{Kind: Render}},
		{"/dashboard", admin, Decision{Kind: Redirect, Path: "/admin"}},
		{"/admin", user, Decision{Kind: Redirect, Path: "/dashboard"}},
		{"/admin", admin, Decision{Kind: Render}},
		{"/admin", session.Snapshot{Loading: true}, Decision{Kind: Wait}},
		{"/nowhere", admin, Decision{Kind: Redirect, Path: "/"}},
	}
	for _, tc := range cases {
		if got := table.Resolve(tc.path, tc.snap); got != tc.want {
			t.Fatalf("Resolve(%q) = %s, want %s", tc.path, got, tc.want)
		}
	}
}

func TestTableIsPublic(t *testing.T) {
	table := DefaultTable()
	for _, p := range []string{"/", "/login", "/signup", "/admin-login"} {
		if !table.IsPublic(p) {
			t.Fatalf("expected %s public", p)
		}
	}
	for _, p := range []string{"/dashboard", "/admin", "/unknown"} {
		if table.IsPublic(p) {
			t.Fatalf("expected %s not public", p)
		}
	}
}

func TestTableStaysOn401(t *testing.T) {
	table := DefaultTable()
	for _, p := range []string{"/", "/login", "/signup", "/admin-login"} {
		if !table.StaysOn401(p) {
			t.Fatalf("expected %s to stay on 401", p)
		}
	}
	for _, p := range []string{"/live-maps", "/impact-stats", "/community-activity", "/dashboard", "/admin", "/unknown"} {
		if table.StaysOn401(p) {
			t.Fatalf("expected %s to move to login on 401", p)
		}
	}
}

func TestNewTableRejectsBadEntries(t *testing.T) {
	if _, err := NewTable(DefaultPaths, "/", []Entry{{Path: "/x", StayOn401: true}, {Path: "/login", Public: true}}); err == nil {
		t.Fatal("expected error for a guarded entry that stays on 401")
	}
	if _, err := NewTable(DefaultPaths, "/", []Entry{{Path: "/x", Required: "root"}, {Path: "/login", Public: true}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := NewTable(DefaultPaths, "/", []Entry{{Path: "/x", Public: true, Required: session.RoleUser}, {Path: "/login", Public: true}}); err == nil {
		t.Fatal("expected error for public entry with role")
	}
	if _, err := NewTable(DefaultPaths, "/", []Entry{{Path: "/a", Public: true}, {Path: "/a/", Public: true}, {Path: "/login", Public: true}}); err == nil {
		t.Fatal("expected error for duplicate entry")
	}
	if _, err := NewTable(DefaultPaths, "/", []Entry{{Path: "/a", Public: true}}); err == nil {
		t.Fatal("expected error when login view is missing")
	}
}
