package models

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Snapshot is the import/export wire format: a full copy of the subject
// table. Ids are preserved across export/import round trips.
type Snapshot struct {
	Users []SnapshotUser `json:"users"`
}

// SnapshotUser is one exported subject. Feature carries the composite
// template base64-encoded.
type SnapshotUser struct {
	ID        int64  `json:"id"`
	WorkerID  string `json:"workerId"`
	Name      string `json:"name"`
	Feature   string `json:"feature"`
	CreatedAt string `json:"createdAt"`
}

// SnapshotUserFromSubject converts a stored subject into its wire form.
func SnapshotUserFromSubject(s Subject) SnapshotUser {
	return SnapshotUser{
		ID:        s.ID,
		WorkerID:  s.WorkerID,
		Name:      s.Name,
		Feature:   base64.StdEncoding.EncodeToString(s.Template),
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Subject converts a wire record back into a Subject, validating the
// required fields.
func (u SnapshotUser) Subject() (Subject, error) {
	if u.ID <= 0 {
		return Subject{}, fmt.Errorf("snapshot user: invalid id %d", u.ID)
	}
	if u.WorkerID == "" {
		return Subject{}, fmt.Errorf("snapshot user %d: missing workerId", u.ID)
	}
	if u.Feature == "" {
		return Subject{}, fmt.Errorf("snapshot user %d: missing feature", u.ID)
	}
	tpl, err := base64.StdEncoding.DecodeString(u.Feature)
	if err != nil {
		return Subject{}, fmt.Errorf("snapshot user %d: bad feature encoding: %w", u.ID, err)
	}
	createdAt := time.Now().UTC()
	if u.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, u.CreatedAt)
		if err != nil {
			return Subject{}, fmt.Errorf("snapshot user %d: bad createdAt: %w", u.ID, err)
		}
		createdAt = parsed
	}
	return Subject{
		ID:        u.ID,
		WorkerID:  u.WorkerID,
		Name:      u.Name,
		Template:  tpl,
		CreatedAt: createdAt,
	}, nil
}
