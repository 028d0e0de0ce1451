// Package logfield names the structured log attributes shared by every
// component, so one query finds a mutation across cache, pipeline and
// transport logs.
package logfield

const (
	MutationID = "mutation_id"
	Mutation   = "mutation"
	Resource   = "resource"
	Key        = "key"
	RequestID  = "request_id"
	Method     = "method"
	Path       = "path"
	Status     = "status"
	Attempt    = "attempt"
	// Duration is in milliseconds.
	Duration = "duration_ms"
	Error    = "error"
)
