package models

// Range is an editor selection measured in editor offsets.
type Range struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// CursorState is the live cursor decoration of one peer. It is never persisted.
type CursorState struct {
	UserID       string `json:"userId"`
	DisplayLabel string `json:"displayLabel"`
	Color        string `json:"color"`
	// Range is nil while the peer's editor has no selection.
	Range *Range `json:"range,omitempty"`
}

// PresenceRecord identifies a user present on a document channel.
type PresenceRecord struct {
	UserID       string `json:"id"`
	DisplayLabel string `json:"displayLabel"`
	AvatarURL    string `json:"avatarUrl"`
}
