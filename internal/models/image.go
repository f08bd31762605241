package models

import "time"

// Image is the metadata record for one stored blob. Records are written once
// and never updated.
type Image struct {
	ID        string
	OwnerID   string
	Location  string
	MediaType string
	SizeBytes int64
	Checksum  []byte
	CreatedAt time.Time
}
