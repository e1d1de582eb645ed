// Package patchproto defines the JSON shapes exchanged with docpatch clients.
package patchproto

import "encoding/json"

// Operation is a single patch operation as it appears on the wire.
type Operation struct {
	Op    string          `json:"op"`              // Op is one of add, remove, replace, move, copy, test
	Path  string          `json:"path"`            // Path is the target location, e.g. "/foo/bar/0/id"
	From  *string         `json:"from,omitempty"`  // From is the source location for move and copy
	Value json.RawMessage `json:"value,omitempty"` // Value is the operand of add, replace and test
}

// Request asks for an ordered list of operations to be applied to one document.
type Request struct {
	ID              string      `json:"id"`
	Operations      []Operation `json:"operations"`
	ExpectedVersion *int64      `json:"expectedVersion,omitempty"` // ExpectedVersion is the caller's last known version
}

// Status values of a Response.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ErrorKind classifies a failed Response.
type ErrorKind string

const (
	MalformedPatch         ErrorKind = "MalformedPatch"
	PathNotFound           ErrorKind = "PathNotFound"
	InvalidMove            ErrorKind = "InvalidMove"
	TestFailed             ErrorKind = "TestFailed"
	VersionConflict        ErrorKind = "VersionConflict"
	ConcurrentModification ErrorKind = "ConcurrentModification"
	PreconditionFailed     ErrorKind = "PreconditionFailed"
	NotFound               ErrorKind = "NotFound"
	Internal               ErrorKind = "Internal"
)

// Response is the outcome of a Request.
type Response struct {
	Status         string          `json:"status"`
	NewVersion     int64           `json:"newVersion,omitempty"`
	Document       json.RawMessage `json:"document,omitempty"`
	Inverse        []Operation     `json:"inverse,omitempty"` // Inverse undoes the applied operations when requested
	ErrorKind      ErrorKind       `json:"errorKind,omitempty"`
	OperationIndex *int            `json:"operationIndex,omitempty"`
	Detail         string          `json:"detail,omitempty"`
}

// Update is one change pushed to subscribers of a document.
type Update struct {
	ID      string          `json:"id"`
	Version []string        `json:"version"`
	Parents []string        `json:"parents"`
	Patches []Operation     `json:"patches,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"` // Full document, sent instead of patches
}
