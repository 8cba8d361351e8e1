// Package syncer assembles the sync core (durable store, remote client,
// connectivity monitor, resolver, replay engine) behind the one Service
// type the UI and the CLI talk to.
package syncer
