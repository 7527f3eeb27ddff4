package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt is returned when a persisted session blob cannot be decoded.
// A corrupt blob is never partially applied; callers treat it as absent.
var ErrCorrupt = errors.New("session blob corrupt")

const codecVersion = 1

type envelope struct {
	Version int     `json:"v"`
	Session Session `json:"session"`
}

// Encode serializes a session for the plain key-value store.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	data, err := json.Marshal(envelope{Version: codecVersion, Session: *s})
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	return data, nil
}

// Decode parses a persisted session blob. Unknown future versions and
// malformed payloads both yield ErrCorrupt so callers fail closed instead
// of restoring half a session.
func Decode(data []byte) (*Session, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.Version != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	}
	if env.Session.AccessToken == "" || env.Session.RefreshToken == "" {
		return nil, fmt.Errorf("%w: missing token pair", ErrCorrupt)
	}
	return &env.Session, nil
}
