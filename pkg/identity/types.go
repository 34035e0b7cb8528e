package identity

import (
	"encoding/json"
	"time"
)

// User is an opaque identity record resolved from the upstream identity
// service. It is immutable once resolved for a given session; a new
// sign-in produces a new User value.
//
// Only the fields the core depends on are modeled. Anything else the
// upstream returns is kept verbatim in Extra and round-trips through
// marshaling untouched.
type User struct {
	ID           string `json:"id"`
	PrimaryEmail string `json:"primary_email,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`

	// Extra holds upstream fields the core does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
}

// Session represents one authenticated browsing session. It is created by
// the upstream identity service on sign-in and becomes invalid at
// ExpiresAt or on explicit sign-out.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Extra holds upstream fields the core does not interpret.
	Extra map[string]json.RawMessage `json:"-"`
}

var userKnownKeys = []string{"id", "primary_email", "display_name"}

// UnmarshalJSON decodes the known fields and keeps everything else in Extra.
func (u *User) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &u.ID); err != nil {
			return err
		}
	}
	if v, ok := raw["primary_email"]; ok {
		if err := json.Unmarshal(v, &u.PrimaryEmail); err != nil {
			return err
		}
	}
	if v, ok := raw["display_name"]; ok {
		if err := json.Unmarshal(v, &u.DisplayName); err != nil {
			return err
		}
	}
	for _, k := range userKnownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		u.Extra = raw
	}
	return nil
}

// MarshalJSON re-emits the known fields merged with Extra. Known fields win
// on key collision.
func (u User) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range u.Extra {
		out[k] = v
	}
	put(out, "id", u.ID)
	if u.PrimaryEmail != "" {
		put(out, "primary_email", u.PrimaryEmail)
	}
	if u.DisplayName != "" {
		put(out, "display_name", u.DisplayName)
	}
	return json.Marshal(out)
}

var sessionKnownKeys = []string{"id", "user_id", "created_at", "expires_at"}

// UnmarshalJSON decodes the known fields and keeps everything else in Extra.
func (s *Session) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &s.ID); err != nil {
			return err
		}
	}
	if v, ok := raw["user_id"]; ok {
		if err := json.Unmarshal(v, &s.UserID); err != nil {
			return err
		}
	}
	if v, ok := raw["created_at"]; ok {
		if err := json.Unmarshal(v, &s.CreatedAt); err != nil {
			return err
		}
	}
	if v, ok := raw["expires_at"]; ok {
		if err := json.Unmarshal(v, &s.ExpiresAt); err != nil {
			return err
		}
	}
	for _, k := range sessionKnownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

// MarshalJSON re-emits the known fields merged with Extra. Known fields win
// on key collision.
func (s Session) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range s.Extra {
		out[k] = v
	}
	put(out, "id", s.ID)
	if s.UserID != "" {
		put(out, "user_id", s.UserID)
	}
	if !s.CreatedAt.IsZero() {
		put(out, "created_at", s.CreatedAt)
	}
	if !s.ExpiresAt.IsZero() {
		put(out, "expires_at", s.ExpiresAt)
	}
	return json.Marshal(out)
}

// Expired reports whether the session's hard expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func put(m map[string]json.RawMessage, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	m[key] = data
}
