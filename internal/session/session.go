// Package session provides the TTL-backed session store that owns placeholder
// counters and placeholder -> original value mappings.
//
// The store is the single source of truth for cross-instance scaling: the
// Redis backend relies on Redis atomicity for counter allocation, so multiple
// proxy instances can redact for the same session without coordination. The
// in-memory backend is for single-instance deployments and tests.
package session

import "fmt"

// Key layout shared by all backends. Keeping the exact scheme stable means a
// Redis store can be inspected (and purged) with plain redis-cli.
//
//	session:{id}:count:{ENTITY_TYPE}    -> int counter
//	session:{id}:mapping:{placeholder}  -> original value
func counterKey(sessionID, entityType string) string {
	return fmt.Sprintf("session:%s:count:%s", sessionID, entityType)
}

func mappingKey(sessionID, placeholder string) string {
	return fmt.Sprintf("session:%s:mapping:%s", sessionID, placeholder)
}

func sessionPattern(sessionID string) string {
	return fmt.Sprintf("session:%s:*", sessionID)
}
