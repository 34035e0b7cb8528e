package identity

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUser_UnknownFieldsRoundTrip(t *testing.T) {
	in := []byte(`{"id":"u1","primary_email":"a@example.com","profile_image_url":"https://img","client_metadata":{"theme":"dark"}}`)

	var u User
	if err := json.Unmarshal(in, &u); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if u.ID != "u1" {
		t.Errorf("ID = %q", u.ID)
	}
	if len(u.Extra) != 2 {
		t.Fatalf("Extra has %d keys, want 2", len(u.Extra))
	}

	out, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var round map[string]json.RawMessage
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatalf("Unmarshal(round) error: %v", err)
	}
	if string(round["profile_image_url"]) != `"https://img"` {
		t.Errorf("profile_image_url = %s", round["profile_image_url"])
	}
	if string(round["client_metadata"]) != `{"theme":"dark"}` {
		t.Errorf("client_metadata = %s", round["client_metadata"])
	}
}

func TestUser_KnownFieldsWinOnCollision(t *testing.T) {
	u := User{
		ID:    "real",
		Extra: map[string]json.RawMessage{"id": json.RawMessage(`"fake"`)},
	}
	out, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var round struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if round.ID != "real" {
		t.Fatalf("id = %q, want real", round.ID)
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()

	s := Session{ID: "s1", ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Error("future expiry reported expired")
	}
	if !s.Expired(now.Add(2 * time.Minute)) {
		t.Error("past expiry not reported expired")
	}

	// No expiry recorded means not expired.
	open := Session{ID: "s2"}
	if open.Expired(now) {
		t.Error("zero expiry reported expired")
	}
}
