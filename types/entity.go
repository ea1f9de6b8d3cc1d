package types

import "time"

// Entity carries creation and update timestamps for accounts. Stores bump
// UpdatedAt whenever the balance or subscription changes.
type Entity struct {
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// NewEntity stamps both fields with the current UTC time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
	}
}
