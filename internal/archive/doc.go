// Package archive propagates the primary store and the comment store into the
// read-only archive database.
//
// Every table is copied in two phases. The cursor phase reads the archive's
// MAX(cursor), pages the source strictly beyond it in (cursor, key) order and
// writes chunked upserts. The reconciliation phase walks the key sets of both
// sides in key order, one bounded page at a time, and heals whatever the
// cursor phase could not see: rows whose cursor is older than the archive's
// high-water mark, member counts that changed without moving the cursor, and
// retracted likes. Neither phase keeps progress in memory between runs; each
// run re-derives its starting point from the archive itself.
package archive
