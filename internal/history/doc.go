// Package history records import runs in a SQLite ledger beside the staging
// tree.
//
// Every import, including dry runs and runs that found nothing to do, gets a
// row keyed by its run id. Rows are inserted as running when the import starts
// and finished with a terminal status, the failed step, and the backup path,
// which gives operators a durable trail for recovering from critical rollbacks.
package history
