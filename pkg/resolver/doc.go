/*
Package resolver produces the reconciled view: the one de-duplicated
list per scope that the UI renders, regardless of whether the data came
from the network, the cache, or the offline queue.

The merge is historical-plus-offline-only, applied uniformly:

 1. Online and the live fetch succeeds: the response is authoritative,
    and is written back into the entity cache (refresh-on-read).
 2. Otherwise the cached collection is the base set.
 3. Pending mutations targeting the scope are appended, in insertion
    order, unless their identity already exists in the base set.

Identity is the scope's extractor from pkg/types, so a volunteer added
offline under a temporary id is recognized by email once the server
confirms it, and is shown exactly once. The resolver never persists its
output; it is recomputed on every read.
*/
package resolver
