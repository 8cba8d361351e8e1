/*
Package edge is the network-boundary interception layer. Every request
the UI makes flows through the proxy, which classifies it by method and
destination and applies one of four strategies:

  - cache-first for immutable assets (images, fonts)
  - stale-while-revalidate for static code assets
  - network-first with a bounded deadline and cached fallback for
    navigations and API reads; single-page-app navigations always
    resolve to the cached application shell, never an error page
  - queued-write for one designated mutating endpoint, whose failed
    requests are captured into a durable retry queue and resubmitted
    when connectivity returns, within a bounded retention window

Cached responses live in the shared BoltDB store under keys prefixed
with a cache version; Activate purges entries from superseded versions.
Precache installs the shell asset manifest at startup, de-duplicated by
query-stripped path.
*/
package edge
