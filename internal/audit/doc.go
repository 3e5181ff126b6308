// Package audit dispatches session audit events asynchronously.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered relay that either drops or blocks when full.
//   - [Event]: one record with timestamp, type, user, role, view and metadata.
//
// # Architecture boundaries
//
// This package owns buffering and sink delivery. Which events exist and when
// they fire is decided by the controller and the flows.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import impactlog or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
