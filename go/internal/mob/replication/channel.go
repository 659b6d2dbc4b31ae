package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mobster/go/internal/mob/commands"
	"github.com/mcdev12/mobster/go/internal/mob/state"
	"github.com/mcdev12/mobster/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotBound = errors.New("channel not bound for this operation")
	ErrRejected = errors.New("request rejected by host")
)

// Binding represents how the channel is attached to the session
type Binding string

const (
	BindingUnbound Binding = "Unbound"
	BindingHost    Binding = "Host"
	BindingGuest   Binding = "Guest"
)

// Handler receives decoded commands. Host bindings deliver ConfirmDriver and
// RequestSync; guest bindings deliver Sync.
type Handler interface {
	HandleSync(opt state.Option)
	HandleConfirmDriver(ctx context.Context, driver models.Participant) error
	HandleRequestSync(requester models.Participant)
}

// Channel binds the local process to the mob service as host, guest or not at all.
type Channel struct {
	transport Transport
	name      string
	handler   Handler
	clock     clockwork.Clock

	mu      sync.Mutex
	binding Binding
	localID string
	host    HostService
	guest   GuestService
	unsubs  []func()
}

// NewChannel creates an unbound channel for the named service.
func NewChannel(transport Transport, name string, handler Handler, clock clockwork.Clock) *Channel {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Channel{
		transport: transport,
		name:      name,
		handler:   handler,
		clock:     clock,
		binding:   BindingUnbound,
	}
}

// Binding returns the current binding.
func (c *Channel) Binding() Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

// BindHost shares the service and registers the guest command handlers.
// Any previous binding is torn down first.
func (c *Channel) BindHost(ctx context.Context, localID string) error {
	c.Unbind()

	svc, err := c.transport.ShareService(ctx, c.name)
	if err != nil {
		return fmt.Errorf("share service %s: %w", c.name, err)
	}

	unsubSync, err := svc.OnNotify(string(commands.TypeRequestSync), c.onRequestSync)
	if err != nil {
		svc.Close()
		return fmt.Errorf("register %s handler: %w", commands.TypeRequestSync, err)
	}
	unsubConfirm, err := svc.OnRequest(string(commands.TypeConfirmDriver), c.onConfirmDriver)
	if err != nil {
		unsubSync()
		svc.Close()
		return fmt.Errorf("register %s handler: %w", commands.TypeConfirmDriver, err)
	}

	c.mu.Lock()
	c.binding = BindingHost
	c.localID = localID
	c.host = svc
	c.unsubs = []func(){unsubSync, unsubConfirm}
	c.mu.Unlock()

	log.Info().Str("service", c.name).Msg("bound replication channel as host")
	return nil
}

// BindGuest looks up the host's service and registers the sync handler.
// When the host has no compatible service the channel stays unbound.
func (c *Channel) BindGuest(ctx context.Context, localID string) error {
	c.Unbind()

	svc, err := c.transport.LookupService(ctx, c.name)
	if err != nil {
		return fmt.Errorf("lookup service %s: %w", c.name, err)
	}

	unsub, err := svc.OnNotify(string(commands.TypeSync), c.onSync)
	if err != nil {
		svc.Close()
		return fmt.Errorf("register %s handler: %w", commands.TypeSync, err)
	}

	c.mu.Lock()
	c.binding = BindingGuest
	c.localID = localID
	c.guest = svc
	c.unsubs = []func(){unsub}
	c.mu.Unlock()

	log.Info().Str("service", c.name).Msg("bound replication channel as guest")
	return nil
}

// Unbind removes all handler registrations and releases the service.
func (c *Channel) Unbind() {
	c.mu.Lock()
	unsubs := c.unsubs
	host, guest := c.host, c.guest
	prev := c.binding
	c.unsubs = nil
	c.host, c.guest = nil, nil
	c.binding = BindingUnbound
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if host != nil {
		if err := host.Close(); err != nil {
			log.Warn().Err(err).Str("service", c.name).Msg("failed to close host service")
		}
	}
	if guest != nil {
		if err := guest.Close(); err != nil {
			log.Warn().Err(err).Str("service", c.name).Msg("failed to close guest service")
		}
	}
	if prev != BindingUnbound {
		log.Info().Str("service", c.name).Str("previous", string(prev)).Msg("replication channel unbound")
	}
}

// Notify sends a fire-and-forget command through whichever side is bound.
// Nothing is sent while unbound.
func (c *Channel) Notify(ctx context.Context, cmd commands.Command) error {
	c.mu.Lock()
	binding, host, guest, localID := c.binding, c.host, c.guest, c.localID
	c.mu.Unlock()

	if binding == BindingUnbound {
		log.Debug().Str("command", string(cmd.Type())).Msg("channel unbound, dropping notification")
		return nil
	}

	data, err := commands.Encode(cmd, localID, c.clock.Now())
	if err != nil {
		return err
	}

	switch binding {
	case BindingHost:
		return host.Notify(ctx, string(cmd.Type()), data)
	default:
		return guest.Notify(ctx, string(cmd.Type()), data)
	}
}

// Request sends a command to the host and waits for its acknowledgement.
// A negative acknowledgement is reported as ErrRejected.
func (c *Channel) Request(ctx context.Context, cmd commands.Command) error {
	c.mu.Lock()
	binding, guest, localID := c.binding, c.guest, c.localID
	c.mu.Unlock()

	if binding != BindingGuest {
		return fmt.Errorf("%w: request %s while %s", ErrNotBound, cmd.Type(), binding)
	}

	data, err := commands.Encode(cmd, localID, c.clock.Now())
	if err != nil {
		return err
	}

	reply, err := guest.Request(ctx, string(cmd.Type()), data)
	if err != nil {
		return fmt.Errorf("request %s: %w", cmd.Type(), err)
	}

	ack, err := commands.DecodeAck(reply)
	if err != nil {
		return err
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", ErrRejected, ack.Error)
	}
	return nil
}

func (c *Channel) onSync(data []byte) {
	cmd, ok := c.decode(data, commands.TypeSync)
	if !ok {
		return
	}
	c.handler.HandleSync(cmd.(commands.Sync).Option)
}

func (c *Channel) onRequestSync(data []byte) {
	cmd, ok := c.decode(data, commands.TypeRequestSync)
	if !ok {
		return
	}
	c.handler.HandleRequestSync(cmd.(commands.RequestSync).Requester)
}

func (c *Channel) onConfirmDriver(ctx context.Context, data []byte) ([]byte, error) {
	cmd, ok := c.decode(data, commands.TypeConfirmDriver)
	if !ok {
		return commands.EncodeAck(commands.ErrInvalidPayload), nil
	}
	err := c.handler.HandleConfirmDriver(ctx, cmd.(commands.ConfirmDriver).Driver)
	return commands.EncodeAck(err), nil
}

func (c *Channel) decode(data []byte, want commands.Type) (commands.Command, bool) {
	env, cmd, err := commands.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("service", c.name).Msg("dropping malformed command")
		return nil, false
	}
	if cmd.Type() != want {
		log.Warn().
			Str("service", c.name).
			Str("expected", string(want)).
			Str("received", string(cmd.Type())).
			Str("command_id", env.ID).
			Msg("dropping command delivered on the wrong route")
		return nil, false
	}

	log.Debug().
		Str("command_id", env.ID).
		Str("command", string(env.Type)).
		Str("sender", env.Sender).
		Msg("received command")
	return cmd, true
}
