package models

// ChatSession groups an ordered message log. Messages are in append order,
// which is also chronological and display order.
type ChatSession struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	CreatedAt    int64     `json:"createdAt"`
	LastModified int64     `json:"lastModified"`
}

// Clone returns a deep copy so callers never share the message slice.
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = CloneMessages(s.Messages)
	return &c
}

// CloneMessages copies a message log including attachment slices.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if len(m.Attachments) > 0 {
			m.Attachments = append([]string(nil), m.Attachments...)
		}
		out[i] = m
	}
	return out
}
