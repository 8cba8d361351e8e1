/*
Package store implements the durable local state of the sync agent on
BoltDB: the persistent mutation queue, the entity cache, and the edge
response cache share one database file with one bucket per concern.

# Mutation queue

Pending mutations are keyed by a monotonic sequence number encoded
big-endian, so cursor order is insertion order and ListPending is FIFO
for free. Archive and Quarantine each move a record between buckets in
a single transaction; a crash can therefore never leave a mutation in
two places, and re-archiving an already-archived id is a no-op, which
is what makes replay idempotent.

	id, err := st.Enqueue("volunteer.create", payload)   // offline write
	pending, _ := st.ListPending()                       // FIFO
	_ = st.Archive(id)                                   // after replay

A mutation with Synced=false survives process restarts indefinitely
until explicitly archived or quarantined.

# Entity cache

Collections are stored whole, one JSON array per key. A replace is a
single Put: there is no per-record merging, so records deleted on the
server disappear locally on the next successful fetch. Reads of a
collection that was never fetched return an empty slice, not an error.
Parent-scoped collections ("risks for activity 12") live in their own
bucket under a composite key.

# Edge cache

Cached HTTP responses are keyed by a cache-version prefix plus the
canonical request path; PurgeStaleResponses drops everything written
under superseded versions. The write-retry queue holds captured failed
writes as opaque HTTP requests, parallel to (but independent of) the
mutation queue.
*/
package store
