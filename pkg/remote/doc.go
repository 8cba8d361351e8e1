// Package remote is the JSON client for the backend field-operations
// API: collection and parent-scoped GETs used by the resolver, and the
// per-kind mutation writes used by the replay engine. Non-2xx responses
// surface as *APIError so callers can tell a definitive rejection from
// a transient failure.
package remote
