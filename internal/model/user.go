package model

import "time"

// User is the canonical actor record. A single human may be referenced by a
// chat handle, a forge login, or an e-mail; all three resolve to one row.
type User struct {
	ID          int64     `json:"id"`
	ChatHandle  *string   `json:"chat_handle,omitempty"`
	ForgeHandle *string   `json:"forge_handle,omitempty"`
	Email       *string   `json:"email,omitempty"`
	ForgeToken  *string   `json:"-"`
	OptOutDigest bool     `json:"opt_out_digest"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
