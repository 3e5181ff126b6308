package route

import (
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/impactlog/impactlog/session"
)

// Entry is one view in the route table.
type Entry struct {
	Path string
	// Public views render for everyone.
	Public bool
	// StayOn401 keeps a public view in place when a request is rejected with
	// 401. Every other view moves to the login page.
	StayOn401 bool
	// Required restricts a protected view to one role; "" admits any
	// authenticated principal.
	Required session.Role
}

// Table maps view paths to their access rules. Unknown paths redirect to
// Fallback.
type Table struct {
	Paths    Paths
	Fallback string
	entries  map[string]Entry
}

// DefaultTable returns the application's views: the landing page, the auth
// pages and the three public dashboards are open; /dashboard is for
// reporters and /admin for administrators. Only the landing page and the
// auth pages stay put on a 401.
func DefaultTable() *Table {
	t, _ := NewTable(DefaultPaths, "/", []Entry{
		{Path: "/", Public: true, StayOn401: true},
		{Path: "/login", Public: true, StayOn401: true},
		{Path: "/signup", Public: true, StayOn401: true},
		{Path: "/admin-login", Public: true, StayOn401: true},
		{Path: "/live-maps", Public: true},
		{Path: "/impact-stats", Public: true},
		{Path: "/community-activity", Public: true},
		{Path: "/dashboard", Required: session.RoleUser},
		{Path: "/admin", Required: session.RoleAdmin},
	})
	return t
}

// NewTable validates entries and builds a table.
func NewTable(paths Paths, fallback string, entries []Entry) (*Table, error) {
	if paths.Login == "" || paths.UserHome == "" || paths.AdminHome == "" {
		return nil, errors.New("route: login and home paths are required")
	}
	if fallback == "" {
		fallback = "/"
	}

	t := &Table{
		Paths:    paths,
		Fallback: fallback,
		entries:  make(map[string]Entry, len(entries)),
	}
	for _, e := range entries {
		if e.Required != "" && !e.Required.Valid() {
			return nil, errors.New("route: entry " + e.Path + " requires an unknown role")
		}
		if e.StayOn401 && !e.Public {
			return nil, errors.New("route: entry " + e.Path + " stays on 401 but is not public")
		}
		if e.Public && e.Required != "" {
			return nil, errors.New("route: public entry " + e.Path + " cannot require a role")
		}
		key := normalize(e.Path)
		if _, dup := t.entries[key]; dup {
			return nil, errors.New("route: duplicate entry " + key)
		}
		e.Path = key
		t.entries[key] = e
	}
	if _, ok := t.entries[normalize(paths.Login)]; !ok {
		return nil, errors.New("route: login path " + paths.Login + " missing from table")
	}
	return t, nil
}

// Lookup returns the entry for p.
func (t *Table) Lookup(p string) (Entry, bool) {
	e, ok := t.entries[normalize(p)]
	return e, ok
}

// IsPublic reports whether p is a public view. Unknown paths are not public.
func (t *Table) IsPublic(p string) bool {
	e, ok := t.Lookup(p)
	return ok && e.Public
}

// StaysOn401 reports whether the view p keeps rendering after a 401. Unknown
// paths do not.
func (t *Table) StaysOn401(p string) bool {
	e, ok := t.Lookup(p)
	return ok && e.StayOn401
}

// Resolve decides what to do when the user navigates to p.
func (t *Table) Resolve(p string, snap session.Snapshot) Decision {
	e, ok := t.Lookup(p)
	if !ok {
		return Decision{Kind: Redirect, Path: t.Fallback}
	}
	if e.Public {
		return Decision{Kind: Render}
	}
	return t.Paths.Decide(snap, e.Required)
}

// Entries returns the table ordered by path.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
