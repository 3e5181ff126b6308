// Package rate implements a Redis-backed fixed-window failure counter.
//
// # Window semantics
//
// INCR + conditional EXPIRE on the first hit. Keys are "<prefix>:<key>";
// callers choose keys that carry no personal data.
package rate
