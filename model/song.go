package model

// QueuedPlaylist identifies the playlist a song was added from, when it was
// added as part of a bulk playlist request.
type QueuedPlaylist struct {
	Title    string `json:"title"`
	SourceID string `json:"sourceId"`
}

// Song describes one playable track handed to the core by the resolver layer.
// It is immutable once enqueued.
type Song struct {
	Title           string          `json:"title"`
	Artist          string          `json:"artist"`
	SourceRef       string          `json:"sourceRef"` // provider URL or id, also the cache-key source
	DurationSeconds int             `json:"duration"`  // 0 for live sources
	OffsetSeconds   int             `json:"offset"`    // start offset requested at add time
	IsLive          bool            `json:"isLive"`    // live sources are never cached and not seekable
	Playlist        *QueuedPlaylist `json:"playlist,omitempty"`
	RequestedBy     string          `json:"requestedBy"`
	AddedInChannel  string          `json:"addedInChannel"`
}
