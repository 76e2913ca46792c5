// Package postgres provides a PostgreSQL MessageStore and WatermarkStore for the vitalrelay engine,
// built on pgx connection pools.
//
// Delivery updates and transitions are conditional UPDATEs; a recorded response and its transition
// share one transaction. The watermark lives in a name/value state table.
package postgres
