package models

// CacheStats reports fingerprint cache performance metrics.
type CacheStats struct {
	MemoryEntries     int64 `json:"memory_entries"`
	PersistentEntries int64 `json:"persistent_entries"`
	Hits              int64 `json:"hits"`
	Misses            int64 `json:"misses"`
}
