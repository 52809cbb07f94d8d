package model

// Question is the content provider's payload. The engine only cares about
// identity and ordering; rendering belongs to the caller.
type Question struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Options  []string `json:"options"`
	Category string   `json:"category,omitempty"`
}
