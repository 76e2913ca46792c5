// Package server exposes the jurisdiction-facing HTTP surface of the relay: record enqueue
// endpoints, status lookups by business identifiers, a message listing for the dashboard and an
// optional push endpoint for inbound responses.
package server
