package domain

import "time"

type UserID string
type EntryID string
type TurnID string
type PersonaID string
type VoiceID string
type AudioRef string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Timestamp = time.Time

// Identity scopes every stored collection. The zero value is the shared guest bucket.
type Identity struct {
	UserID UserID
}

// Guest returns the identity shared by every unauthenticated caller.
func Guest() Identity {
	return Identity{}
}

// User returns the identity of an authenticated user.
func User(id UserID) Identity {
	return Identity{UserID: id}
}

func (i Identity) IsGuest() bool {
	return i.UserID == ""
}

// Key is the storage key of the identity. Guest and user keys never collide.
func (i Identity) Key() string {
	if i.IsGuest() {
		return "guest"
	}
	return "user:" + string(i.UserID)
}

func (i Identity) String() string {
	return i.Key()
}

// Audio is a binary payload with its declared media type.
type Audio struct {
	Data     []byte
	MimeType string
}

func (a Audio) Empty() bool {
	return len(a.Data) == 0
}
