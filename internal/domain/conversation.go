package domain

// ChatMessage is one prior turn as seen by the conversational model.
type ChatMessage struct {
	Role    Role
	Content string
}

// ConversationContext gives the model the entry it is anchored to and the dialogue so far.
type ConversationContext struct {
	EntryID    EntryID
	Transcript string
	Emotions   []string
	Topics     []string
	History    []ChatMessage
}
