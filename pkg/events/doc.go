// Package events provides an in-process publish/subscribe broker for
// sync-agent events: connectivity transitions, queue activity, and
// replay lifecycle. The UI consumes these to drive its "will sync" and
// offline indicators; the replay engine consumes connectivity events to
// trigger drains.
package events
