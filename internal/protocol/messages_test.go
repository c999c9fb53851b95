package protocol_test

import (
	"errors"
	"testing"

	"github.com/zubia/zubia/internal/protocol"
)

func TestParseServerMessage_Joined(t *testing.T) {
	raw := []byte(`{
		"type": "joined",
		"userId": "u-1",
		"roomName": "Testers",
		"roomId": "r-42",
		"users": [
			{"id": "u-1", "name": "Ana", "language": "es", "isMuted": false},
			{"id": "u-2", "name": "Bo", "language": "en", "isMuted": true}
		]
	}`)

	msg, err := protocol.ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage: %v", err)
	}
	joined, ok := msg.(protocol.Joined)
	if !ok {
		t.Fatalf("expected Joined, got %T", msg)
	}
	if joined.UserID != "u-1" || joined.RoomID != "r-42" || joined.RoomName != "Testers" {
		t.Errorf("unexpected fields: %+v", joined)
	}
	if len(joined.Users) != 2 || !joined.Users[1].IsMuted {
		t.Errorf("unexpected roster: %+v", joined.Users)
	}
}

func TestParseServerMessage_TranslatedAudioMeta(t *testing.T) {
	raw := []byte(`{
		"type": "translated_audio_meta",
		"fromUser": "Ana",
		"fromLanguage": "es",
		"toLanguage": "en",
		"originalText": "hola",
		"translatedText": "hello"
	}`)

	msg, err := protocol.ParseServerMessage(raw)
	if err != nil {
		t.Fatalf("ParseServerMessage: %v", err)
	}
	meta, ok := msg.(protocol.TranslatedAudioMeta)
	if !ok {
		t.Fatalf("expected TranslatedAudioMeta, got %T", msg)
	}
	if meta.FromUser != "Ana" || meta.TranslatedText != "hello" {
		t.Errorf("unexpected fields: %+v", meta)
	}
}

func TestParseServerMessage_MuteVariants(t *testing.T) {
	for _, typ := range []string{"user_muted", "user_unmuted"} {
		msg, err := protocol.ParseServerMessage([]byte(`{"type": "` + typ + `"}`))
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		mc, ok := msg.(protocol.UserMuteChanged)
		if !ok {
			t.Fatalf("%s: expected UserMuteChanged, got %T", typ, msg)
		}
		// Roster may legitimately be absent on mute/unmute.
		if mc.Users != nil {
			t.Errorf("%s: expected nil users, got %+v", typ, mc.Users)
		}
	}
}

func TestParseServerMessage_UnknownTypeIgnorable(t *testing.T) {
	_, err := protocol.ParseServerMessage([]byte(`{"type": "server_gossip"}`))
	if !errors.Is(err, protocol.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestParseServerMessage_MalformedJSON(t *testing.T) {
	if _, err := protocol.ParseServerMessage([]byte(`{not json`)); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestNewChangeLanguage(t *testing.T) {
	msg := protocol.NewChangeLanguage("fr")
	if msg.Type != "change_language" || msg.Language != "fr" {
		t.Errorf("unexpected message: %+v", msg)
	}
}
