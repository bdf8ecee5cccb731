// Package database provides bounded contexts for store access so a stalled
// database never wedges a broker handler or an HTTP request.
package database

import (
	"context"
	"time"
)

const (
	// queryTimeout bounds single-row and list reads.
	queryTimeout = 5 * time.Second

	// writeTimeout bounds inserts and the conditional status updates; the
	// decision endpoints sit on this path.
	writeTimeout = 10 * time.Second

	// bulkTimeout bounds migrations and aggregate queries.
	bulkTimeout = 30 * time.Second
)

// QueryContext derives a context for read operations.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, queryTimeout)
}

// WriteContext derives a context for writes and status transitions.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, writeTimeout)
}

// BulkContext derives a context for migrations and aggregations.
func BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, bulkTimeout)
}
