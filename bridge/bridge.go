// Package bridge connects an external federated identity SDK's event
// stream to the session core.
//
// Federated SDKs announce their own sign-in state on their own schedule,
// including replaying a signed-out notification on every cold start before
// anyone has ever authenticated. The bridge only transports and logs;
// deciding whether a notification is an echo, a replay, or a real
// transition is the handler's job.
package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/parkrow/sessionkit/provider"
)

// NotificationKind classifies external auth notifications.
type NotificationKind int

const (
	// KindSignedIn means the external SDK established a federated identity.
	KindSignedIn NotificationKind = iota
	// KindSignedOut means the external SDK dropped its identity.
	KindSignedOut
)

// Notification is one external auth state announcement. Credential is set
// only for KindSignedIn.
type Notification struct {
	Kind       NotificationKind
	Credential *provider.FederatedCredential
}

// Source is the external SDK's notification stream. The channel must be
// closed when the source shuts down.
type Source interface {
	Notifications() <-chan Notification
}

// Handler reconciles notifications against the session state. Implemented
// by the session manager.
type Handler interface {
	FederatedSignedIn(ctx context.Context, cred provider.FederatedCredential) error
	FederatedSignedOut(ctx context.Context) error
}

// Bridge pumps notifications from a source into a handler on its own
// goroutine, so a slow reconciliation never blocks the SDK callback thread.
type Bridge struct {
	source  Source
	handler Handler
	log     zerolog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New starts the pump. Close releases it.
func New(source Source, handler Handler, log zerolog.Logger) (*Bridge, error) {
	if source == nil {
		return nil, errors.New("bridge: nil source")
	}
	if handler == nil {
		return nil, errors.New("bridge: nil handler")
	}

	b := &Bridge{
		source:  source,
		handler: handler,
		log:     log.With().Str("component", "bridge").Logger(),
		done:    make(chan struct{}),
	}

	b.wg.Add(1)
	go b.run()

	return b, nil
}

func (b *Bridge) run() {
	defer b.wg.Done()

	for {
		select {
		case notif, ok := <-b.source.Notifications():
			if !ok {
				return
			}
			b.dispatch(notif)
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) dispatch(notif Notification) {
	ctx := context.Background()

	switch notif.Kind {
	case KindSignedIn:
		if notif.Credential == nil {
			b.log.Warn().Msg("signed-in notification without credential")
			return
		}
		if err := b.handler.FederatedSignedIn(ctx, *notif.Credential); err != nil {
			b.log.Warn().Err(err).Msg("federated sign-in reconciliation failed")
		}
	case KindSignedOut:
		if err := b.handler.FederatedSignedOut(ctx); err != nil {
			b.log.Warn().Err(err).Msg("federated sign-out reconciliation failed")
		}
	default:
		b.log.Warn().Int("kind", int(notif.Kind)).Msg("unknown notification kind")
	}
}

// Close stops the pump and waits for the in-flight dispatch to finish.
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
}

// ChannelSource is a Source backed by a buffered channel, for SDK bindings
// that deliver callbacks and for tests.
type ChannelSource struct {
	ch chan Notification
}

// NewChannelSource returns a source with the given buffer capacity. A
// non-positive buffer is raised to one.
func NewChannelSource(buffer int) *ChannelSource {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSource{ch: make(chan Notification, buffer)}
}

// Notifications exposes the stream a bridge pumps from.
func (s *ChannelSource) Notifications() <-chan Notification {
	return s.ch
}

// Publish enqueues a notification, dropping it if the buffer is full. SDK
// callbacks must never block.
func (s *ChannelSource) Publish(notif Notification) bool {
	select {
	case s.ch <- notif:
		return true
	default:
		return false
	}
}

// CloseSource closes the stream, stopping any bridge reading it.
func (s *ChannelSource) CloseSource() {
	close(s.ch)
}
