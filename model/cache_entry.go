package model

import "time"

// CacheEntry is the metadata row for one cached audio blob. An entry exists
// iff the blob file exists on disk; reconciliation enforces this after
// crashes and out-of-band deletes.
type CacheEntry struct {
	Key        string    `json:"key"` // content hash of the source reference
	SizeBytes  int64     `json:"sizeBytes"`
	CreatedAt  time.Time `json:"createdAt"`
	AccessedAt time.Time `json:"accessedAt"`
}
