// Package models defines the data model shared by the store, the session
// manager and the HTTP facade.
package models

import "time"

// Subject is one enrolled person: an externally meaningful worker id, a
// display name and the composite template produced by a completed
// enrollment. Template holds the raw engine bytes; the store persists them
// base64-encoded.
type Subject struct {
	ID        int64     `json:"id"`
	WorkerID  string    `json:"workerId"`
	Name      string    `json:"name"`
	Template  []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
