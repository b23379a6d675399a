package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/unlock-gateway/internal/domain/identity"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/persistence/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeSocket records every frame pushed to it.
type fakeSocket struct {
	id string

	mu        sync.Mutex
	frames    [][]byte
	sendErr   error
	closed    bool
	closeCode int
}

func newFakeSocket(id string) *fakeSocket { return &fakeSocket{id: id} }

func (f *fakeSocket) ID() string { return f.id }

func (f *fakeSocket) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSocket) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	return nil
}

func (f *fakeSocket) envelopes(t *testing.T) []wireEnvelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wireEnvelope, 0, len(f.frames))
	for _, raw := range f.frames {
		var env wireEnvelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeSocket) events(t *testing.T) []string {
	t.Helper()
	var names []string
	for _, env := range f.envelopes(t) {
		names = append(names, env.Event)
	}
	return names
}

// wireEnvelope mirrors Envelope with raw data for assertions.
type wireEnvelope struct {
	Event     string          `json:"event"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e wireEnvelope) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v))
}

func findEvent(envs []wireEnvelope, event string) (wireEnvelope, bool) {
	for _, env := range envs {
		if env.Event == event {
			return env, true
		}
	}
	return wireEnvelope{}, false
}

// tokenVerifier maps opaque tokens to user ids.
type tokenVerifier struct {
	tokens map[string]string
	delay  time.Duration
}

func (v *tokenVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	userID, ok := v.tokens[token]
	if !ok {
		return "", errors.New("bad token")
	}
	return userID, nil
}

func newDirectory() *memory.Directory {
	d := memory.NewDirectory()
	d.PutUser(identity.User{ID: "u1", Active: true})
	d.PutUser(identity.User{ID: "u2", Active: true})
	d.PutUser(identity.User{ID: "banned", Active: false})
	return d
}

func newTestRegistry() *Registry {
	verifier := &tokenVerifier{tokens: map[string]string{
		"t1":     "u1",
		"t2":     "u2",
		"tb":     "banned",
		"tghost": "ghost",
	}}
	return NewRegistry(verifier, newDirectory(), RegistryConfig{Logger: discard})
}

func connect(t *testing.T, r *Registry, id, token string) *fakeSocket {
	t.Helper()
	sock := newFakeSocket(id)
	_, err := r.Connect(context.Background(), sock, token)
	require.NoError(t, err)
	return sock
}
