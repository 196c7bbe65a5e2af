package model

import "time"

// StateRow is a scalar (namespace, key) -> value row with an optional
// absolute expiry.
type StateRow struct {
	Namespace string     `json:"namespace"`
	Key       string     `json:"key"`
	Value     *string    `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// StateItem is a member of a collection grouped under a parent StateRow.
type StateItem struct {
	Namespace string    `json:"namespace"`
	Key       string    `json:"key"`
	ItemKey   string    `json:"itemKey"`
	Value     *string   `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}
