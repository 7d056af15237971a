package session

// Level classifies a flash message for the frontend.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const flashKey = "_flash"

// Message is a one-shot notice shown on the next page the visitor loads.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"message"`
}

// AddFlash queues a message. Messages survive until Flashes pops them.
func AddFlash(s *Session, level Level, text string) {
	var queued []Message
	// A corrupt queue is dropped rather than blocking new messages.
	if _, err := s.Get(flashKey, &queued); err != nil {
		queued = nil
	}
	queued = append(queued, Message{Level: level, Text: text})
	_ = s.Set(flashKey, queued)
}

// Flashes pops every queued message, oldest first.
func Flashes(s *Session) []Message {
	var queued []Message
	if _, err := s.Pop(flashKey, &queued); err != nil {
		return []Message{}
	}
	if queued == nil {
		queued = []Message{}
	}
	return queued
}
