package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the NATS connection
type NATSConfig struct {
	URL            string
	ClientName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ProbeTimeout   time.Duration // how long to wait for a host to answer a lookup
	RequestTimeout time.Duration // upper bound for the host answering a request
}

// DefaultNATSConfig returns default NATS configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		ClientName:     "mobster",
		MaxReconnects:  -1, // Infinite
		ReconnectWait:  2 * time.Second,
		ProbeTimeout:   time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Connect opens a NATS connection that logs connection state changes.
func Connect(cfg NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSTransport shares mob services on subjects scoped to one session:
//
//	mob.<session>.<service>.probe        host answers lookups
//	mob.<session>.<service>.host.<cmd>   host -> guests notifications
//	mob.<session>.<service>.guest.<cmd>  guest -> host notifications
//	mob.<session>.<service>.rpc.<cmd>    guest -> host requests
type NATSTransport struct {
	nc        *nats.Conn
	sessionID string
	config    NATSConfig
}

// NewNATSTransport creates a transport for the given session.
func NewNATSTransport(nc *nats.Conn, sessionID string, config NATSConfig) *NATSTransport {
	defaults := DefaultNATSConfig()
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	return &NATSTransport{nc: nc, sessionID: sessionID, config: config}
}

func (t *NATSTransport) prefix(name string) string {
	return fmt.Sprintf("mob.%s.%s", t.sessionID, name)
}

// probe reports whether some host currently answers for the service.
func (t *NATSTransport) probe(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.config.ProbeTimeout)
	defer cancel()

	_, err := t.nc.RequestWithContext(ctx, t.prefix(name)+".probe", nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, nats.ErrNoResponders), errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}

// ShareService publishes the service unless another host already answers for it.
func (t *NATSTransport) ShareService(ctx context.Context, name string) (HostService, error) {
	hosted, err := t.probe(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", name, err)
	}
	if hosted {
		return nil, fmt.Errorf("%w: %s already shared in session %s", ErrServiceUnavailable, name, t.sessionID)
	}

	prefix := t.prefix(name)
	probeSub, err := t.nc.Subscribe(prefix+".probe", func(m *nats.Msg) {
		if err := m.Respond([]byte("ok")); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("failed to answer probe")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe probe: %w", err)
	}
	// A second host probing right after this must already get an answer.
	if err := t.nc.FlushTimeout(t.config.ProbeTimeout); err != nil {
		probeSub.Unsubscribe()
		return nil, fmt.Errorf("flush probe subscription: %w", err)
	}

	log.Info().Str("prefix", prefix).Msg("sharing mob service over NATS")
	return &natsHost{
		natsEndpoint: natsEndpoint{nc: t.nc, prefix: prefix, flushTimeout: t.config.ProbeTimeout},
		probeSub:     probeSub,
		timeout:      t.config.RequestTimeout,
	}, nil
}

// LookupService connects to the host's service, failing with
// ErrServiceUnavailable when nobody answers the probe.
func (t *NATSTransport) LookupService(ctx context.Context, name string) (GuestService, error) {
	hosted, err := t.probe(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", name, err)
	}
	if !hosted {
		return nil, fmt.Errorf("%w: no host for %s in session %s", ErrServiceUnavailable, name, t.sessionID)
	}
	return &natsGuest{natsEndpoint: natsEndpoint{nc: t.nc, prefix: t.prefix(name), flushTimeout: t.config.ProbeTimeout}}, nil
}

// natsEndpoint tracks subscriptions so Close can release whatever is left.
type natsEndpoint struct {
	nc           *nats.Conn
	prefix       string
	flushTimeout time.Duration

	mu   sync.Mutex
	subs map[*nats.Subscription]bool
}

func (e *natsEndpoint) subscribe(subject string, cb nats.MsgHandler) (func(), error) {
	sub, err := e.nc.Subscribe(subject, cb)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := e.nc.FlushTimeout(e.flushTimeout); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("subscription not confirmed by server")
	}

	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[*nats.Subscription]bool)
	}
	e.subs[sub] = true
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, sub)
		e.mu.Unlock()
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			log.Warn().Err(err).Str("subject", subject).Msg("failed to unsubscribe")
		}
	}, nil
}

func (e *natsEndpoint) publish(subject string, data []byte) error {
	if err := e.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (e *natsEndpoint) closeSubs() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for sub := range subs {
		sub.Unsubscribe()
	}
}

type natsHost struct {
	natsEndpoint
	probeSub *nats.Subscription
	timeout  time.Duration
}

func (h *natsHost) Notify(ctx context.Context, command string, data []byte) error {
	return h.publish(h.prefix+".host."+command, data)
}

func (h *natsHost) OnNotify(command string, handler NotifyHandler) (func(), error) {
	return h.subscribe(h.prefix+".guest."+command, func(m *nats.Msg) {
		handler(m.Data)
	})
}

func (h *natsHost) OnRequest(command string, handler RequestHandler) (func(), error) {
	return h.subscribe(h.prefix+".rpc."+command, func(m *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()

		reply, err := handler(ctx, m.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("request handler failed")
			return
		}
		if err := m.Respond(reply); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("failed to respond to request")
		}
	})
}

func (h *natsHost) Close() error {
	h.closeSubs()
	if err := h.probeSub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("unsubscribe probe: %w", err)
	}
	// Guests must see no responders once Close returns.
	if err := h.nc.FlushTimeout(h.flushTimeout); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		log.Warn().Err(err).Str("prefix", h.prefix).Msg("failed to flush host teardown")
	}
	return nil
}

type natsGuest struct {
	natsEndpoint
}

func (g *natsGuest) Notify(ctx context.Context, command string, data []byte) error {
	return g.publish(g.prefix+".guest."+command, data)
}

func (g *natsGuest) OnNotify(command string, handler NotifyHandler) (func(), error) {
	return g.subscribe(g.prefix+".host."+command, func(m *nats.Msg) {
		handler(m.Data)
	})
}

func (g *natsGuest) Request(ctx context.Context, command string, data []byte) ([]byte, error) {
	msg, err := g.nc.RequestWithContext(ctx, g.prefix+".rpc."+command, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		return nil, err
	}
	return msg.Data, nil
}

func (g *natsGuest) Close() error {
	g.closeSubs()
	return nil
}
