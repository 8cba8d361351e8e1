// Package netmon observes connectivity to the remote API. The browser
// notion of an online/offline platform signal is rendered here as a
// periodic HTTP probe of the API health endpoint plus an explicit
// SetOnline hook; consumers read the atomic flag or subscribe to
// transition events on the broker.
package netmon
