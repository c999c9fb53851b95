// Package protocol defines the JSON control messages exchanged with the
// Zubia room server over the websocket text channel. Binary frames carry
// audio and are not described here.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies inbound control message variants, carried in the
// "type" field of every server message.
type MessageType string

const (
	TypeJoined              MessageType = "joined"
	TypeUserJoined          MessageType = "user_joined"
	TypeUserLeft            MessageType = "user_left"
	TypeUserMuted           MessageType = "user_muted"
	TypeUserUnmuted         MessageType = "user_unmuted"
	TypeUserLanguageChanged MessageType = "user_language_changed"
	TypeTranscription       MessageType = "transcription"
	TypeTranslatedAudioMeta MessageType = "translated_audio_meta"
)

// ErrUnknownType marks a control message whose type is not recognised.
// Receivers ignore such messages rather than failing the session.
var ErrUnknownType = errors.New("protocol: unknown message type")

// User is one roster entry as reported by the server.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	IsMuted  bool   `json:"isMuted"`
}

// Hello is the identity frame sent as the first message on a new
// connection, before any audio.
type Hello struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// ChangeLanguage is sent when the local user switches language.
type ChangeLanguage struct {
	Type     MessageType `json:"type"`
	Language string      `json:"language"`
}

// NewChangeLanguage builds a change_language control message.
func NewChangeLanguage(language string) ChangeLanguage {
	return ChangeLanguage{Type: "change_language", Language: language}
}

// MuteState is the mute/unmute control pair sent by the client. The server
// keeps forwarding control traffic while muted but drops the user's audio.
type MuteState struct {
	Type MessageType `json:"type"`
}

// NewMuteState builds the control message for the given mute state.
func NewMuteState(muted bool) MuteState {
	if muted {
		return MuteState{Type: "mute"}
	}
	return MuteState{Type: "unmute"}
}

// Joined acknowledges room entry. No recording control is enabled before
// this arrives.
type Joined struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"userId"`
	RoomName string      `json:"roomName"`
	RoomID   string      `json:"roomId"`
	Users    []User      `json:"users"`
}

// UserJoined announces another participant entering the room.
type UserJoined struct {
	Type     MessageType `json:"type"`
	UserName string      `json:"userName"`
	Language string      `json:"language"`
	Users    []User      `json:"users"`
}

// UserLeft announces a participant leaving the room.
type UserLeft struct {
	Type     MessageType `json:"type"`
	UserName string      `json:"userName"`
	Users    []User      `json:"users"`
}

// UserMuteChanged covers the user_muted/user_unmuted pair. The users list
// may be absent, in which case the previous roster stands.
type UserMuteChanged struct {
	Type  MessageType `json:"type"`
	Users []User      `json:"users"`
}

// UserLanguageChanged announces a participant switching language.
type UserLanguageChanged struct {
	Type  MessageType `json:"type"`
	Users []User      `json:"users"`
}

// Transcription echoes the local user's own recognised speech.
type Transcription struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	Language string      `json:"language"`
}

// TranslatedAudioMeta describes the translated audio payload that arrives
// in the next binary frame. Pairing is positional: the binary frame
// immediately following this message belongs to it.
type TranslatedAudioMeta struct {
	Type           MessageType `json:"type"`
	FromUser       string      `json:"fromUser"`
	FromLanguage   string      `json:"fromLanguage"`
	ToLanguage     string      `json:"toLanguage"`
	OriginalText   string      `json:"originalText"`
	TranslatedText string      `json:"translatedText"`
}

// envelope is used to sniff the type tag before full decoding.
type envelope struct {
	Type MessageType `json:"type"`
}

// ParseServerMessage decodes one inbound control frame into its typed
// message. Unknown types return [ErrUnknownType]; the caller logs and
// ignores them. Malformed JSON for a known type is an error — the frame is
// dropped, never fatal.
func ParseServerMessage(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("protocol: invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeJoined:
		return decodeAs[Joined](raw)
	case TypeUserJoined:
		return decodeAs[UserJoined](raw)
	case TypeUserLeft:
		return decodeAs[UserLeft](raw)
	case TypeUserMuted, TypeUserUnmuted:
		return decodeAs[UserMuteChanged](raw)
	case TypeUserLanguageChanged:
		return decodeAs[UserLanguageChanged](raw)
	case TypeTranscription:
		return decodeAs[Transcription](raw)
	case TypeTranslatedAudioMeta:
		return decodeAs[TranslatedAudioMeta](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T any](raw []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("protocol: decode %T: %w", msg, err)
	}
	return msg, nil
}
