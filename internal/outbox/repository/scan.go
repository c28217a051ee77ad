// Package repository implements outbox persistence for PostgreSQL and MySQL.
//
// Every state change on an outbox item is a conditional UPDATE guarded by the item
// version, so concurrent dispatchers and reconcilers never overwrite each other.
package repository

import (
	"encoding/json"
	"strings"
)

const outboxItemColumns = `id, integration_id, operation, stable_resource_id, payload, idempotency_key, status,
	attempt_count, next_attempt_at, last_error, provider_response, version, claimed_until, sent_at,
	created_at, updated_at`

const reconcileRunColumns = `id, integration_id, strategy, status, checked, fixed, notes, started_at, finished_at`

const downstreamLogColumns = `id, integration_id, operation, stable_resource_id, payload, status, created_at`

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// jsonArg converts a JSON document to a driver argument. JSON columns are sent as text.
func jsonArg(doc json.RawMessage) any {
	if len(doc) == 0 {
		return nil
	}
	return string(doc)
}

// jsonValue copies scanned bytes into a JSON document.
func jsonValue(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(append([]byte(nil), b...))
}

// placeholders returns "?, ?, ?" for n MySQL arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
