// Package types defines the shared data model of the sync core: entity
// scopes, per-scope identity extraction, mutation kinds, and the queued
// mutation records.
//
// Identity is deliberately an explicit per-scope dispatch rather than ad
// hoc field lookups: most entities are keyed by server id, person-like
// entities (staff, volunteers) by normalized email so that records
// created offline under a temporary id still match their server copy,
// and assignment bridges by the (parent, child) id pair.
package types
