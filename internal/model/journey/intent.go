package journey

// Intent is an origin/destination travel request recognised in a conversation.
// A nil *Intent means no intent was found.
type Intent struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
}
