package replication

import (
	"context"
	"errors"
)

// ErrServiceUnavailable is returned when a named service cannot be shared or found.
var ErrServiceUnavailable = errors.New("replication service unavailable")

// NotifyHandler receives a fire-and-forget notification.
type NotifyHandler func(data []byte)

// RequestHandler answers a request. The returned bytes are sent back to the requester.
type RequestHandler func(ctx context.Context, data []byte) ([]byte, error)

// Transport exposes named services over the session transport.
type Transport interface {
	// ShareService publishes a service under name. Only one host may share a name.
	ShareService(ctx context.Context, name string) (HostService, error)
	// LookupService connects to a service another participant shares.
	LookupService(ctx context.Context, name string) (GuestService, error)
}

// HostService is the sharing side of a named service.
type HostService interface {
	// Notify broadcasts to every guest connected to the service.
	Notify(ctx context.Context, command string, data []byte) error
	OnNotify(command string, h NotifyHandler) (unsubscribe func(), err error)
	OnRequest(command string, h RequestHandler) (unsubscribe func(), err error)
	Close() error
}

// GuestService is a proxy to a service shared by the host.
type GuestService interface {
	// Notify sends to the host.
	Notify(ctx context.Context, command string, data []byte) error
	OnNotify(command string, h NotifyHandler) (unsubscribe func(), err error)
	Request(ctx context.Context, command string, data []byte) ([]byte, error)
	Close() error
}
