package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlashes(t *testing.T) {
	s := New("id")
	assert.Empty(t, Flashes(s))

	AddFlash(s, LevelSuccess, "Saved.")
	AddFlash(s, LevelWarning, "Check your email.")

	got := Flashes(s)
	assert.Equal(t, []Message{
		{Level: LevelSuccess, Text: "Saved."},
		{Level: LevelWarning, Text: "Check your email."},
	}, got)
	assert.Empty(t, Flashes(s), "flashes are popped once")
}

func TestAddFlash_CorruptQueueIsReplaced(t *testing.T) {
	s := load("id", map[string]json.RawMessage{flashKey: json.RawMessage(`{"bad":true}`)})

	AddFlash(s, LevelInfo, "hello")
	assert.Equal(t, []Message{{Level: LevelInfo, Text: "hello"}}, Flashes(s))
}
