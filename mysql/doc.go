// Package mysql provides a MySQL 8.0+ MessageStore and WatermarkStore for the vitalrelay engine.
//
// The store uses:
//   - one row per outbound message and per inbound response, keyed by the wire message id
//   - conditional UPDATEs (status, retries) so overlapping ticks never overwrite each other
//   - a transaction per recorded response covering the insert and the status transition
//   - a name/value state table holding the poll watermark
//
// The DSN must enable parseTime. See Schema for the DDL and CleanupMaintainer for retention.
package mysql
