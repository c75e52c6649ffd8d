package models

// SourceState holds the cache validators of one source.
type SourceState struct {
	LastModified string `yaml:"last-modified,omitempty" json:"last_modified,omitempty"`
	ETag         string `yaml:"etag,omitempty" json:"etag,omitempty"`
	RequestedAt  string `yaml:"requested_at,omitempty" json:"requested_at,omitempty"`
}

// IsZero reports whether no validator has been stored.
func (s SourceState) IsZero() bool {
	return s.LastModified == "" && s.ETag == "" && s.RequestedAt == ""
}

// CacheState keyed by source identifier
type CacheState map[string]SourceState
