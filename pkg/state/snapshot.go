package state

import (
	"encoding/json"

	"github.com/authrelay/authrelay/pkg/identity"
	"github.com/authrelay/authrelay/pkg/middleware"
)

// Snapshot is the initial {user, session} pair a server-rendered page may
// embed for the client store to adopt at startup.
type Snapshot struct {
	User    *identity.User    `json:"user"`
	Session *identity.Session `json:"session"`
}

// SnapshotFromAuthContext builds a hydration snapshot from a request's
// resolved auth context. Anonymous requests produce an empty snapshot.
func SnapshotFromAuthContext(ac middleware.AuthContext) Snapshot {
	return Snapshot{User: ac.User, Session: ac.Session}
}

// EncodeSnapshot renders the snapshot as JSON for embedding in a page.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// DecodeSnapshot parses an embedded snapshot. A decode failure returns
// nil: hydration is best-effort and the store simply starts anonymous.
func DecodeSnapshot(data []byte) *Snapshot {
	if len(data) == 0 {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	return &snap
}
