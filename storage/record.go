package storage

import (
	"encoding/json"
	"time"
)

// Record is a document plus the system metadata the store is responsible
// for maintaining: id, monotonic version, creation/update timestamps, and an
// optional absolute expiry. Invariants (enforced by the collection layer,
// not here): id never changes, version never decreases, updated_at >=
// created_at.
type Record struct {
	ID        DocumentID `json:"_id"`
	Data      Document   `json:"data"`
	Version   uint64     `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	TTL       *time.Time `json:"ttl,omitempty"`
}

// Expired reports whether the record's TTL, if any, has passed now.
func (r *Record) Expired(now time.Time) bool {
	return r.TTL != nil && now.After(*r.TTL)
}

// View returns the user-visible payload: the raw data merged with the _id
// field, matching the shape the teacher's flat Document model used to
// expose directly.
func (r *Record) View() Document {
	view := r.Data.Clone()
	view.SetID(r.ID)
	return view
}

// Serialize encodes the full Record (metadata included) for WAL/snapshot
// persistence.
func (r *Record) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

// DeserializeRecord decodes a Record previously produced by Serialize.
func DeserializeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Clone returns a deep copy of the record, safe to mutate independently of
// the original (used when building the next version in an update).
func (r *Record) Clone() *Record {
	clone := *r
	clone.Data = r.Data.Clone()
	if r.TTL != nil {
		ttl := *r.TTL
		clone.TTL = &ttl
	}
	return &clone
}
