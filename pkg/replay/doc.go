/*
Package replay drains the persistent mutation queue against the remote
API once connectivity is available.

A drain walks a snapshot of the pending queue in insertion order and
attempts each item independently: success archives the item (atomically,
idempotent by id), a definitive server rejection quarantines it into the
dead-letter bucket, and a transient failure leaves it pending for the
next drain, up to a configurable retry budget. One bad record never
blocks the rest of the queue.

Drains are self-serializing. The online event, the app-start check, and
a manual "retry sync" can all fire together; whichever arrives second
coalesces into the running drain as one extra pass rather than racing a
second pass over the same items, which would risk duplicate
submissions.

Records created offline carry a local temporary id. When the server
confirms the record, the engine remaps that id to the server-assigned
one in every still-pending payload referencing it, so dependent
mutations (e.g. an assignment to an offline-created activity) replay
against the real id. Items whose dependencies are still local are
deferred, not failed.
*/
package replay
