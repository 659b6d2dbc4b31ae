package controller

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mcdev12/mobster/go/internal/mob/natstest"
	"github.com/mcdev12/mobster/go/internal/mob/replication"
	"github.com/mcdev12/mobster/go/internal/mob/session"
	"github.com/mcdev12/mobster/go/internal/mob/state"
	"github.com/mcdev12/mobster/go/internal/models"
	"github.com/nats-io/nats-server/v2/server"
)

// node is one process: presence, NATS transport and a running controller.
type node struct {
	c        *Controller
	prompter *fakePrompter

	leave   context.CancelFunc
	left    chan struct{}
	stop    context.CancelFunc
	stopped chan struct{}
}

func startNode(t *testing.T, s *server.Server, identity models.Participant, role session.Role) *node {
	t.Helper()
	natsCfg := replication.DefaultNATSConfig()
	natsCfg.URL = s.ClientURL()
	natsCfg.ProbeTimeout = 200 * time.Millisecond
	natsCfg.RequestTimeout = time.Second
	nc, err := replication.Connect(natsCfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	presence := session.NewPresence(nc, session.PresenceConfig{
		SessionID:         "team",
		HeartbeatInterval: 50 * time.Millisecond,
		PeerTTL:           300 * time.Millisecond,
	}, &identity, role, nil)

	n := &node{
		prompter: &fakePrompter{},
		left:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	n.c = New(Config{IntervalSec: 1, ServiceName: "mob", ConfirmTimeout: time.Second, BindRetry: 100 * time.Millisecond}, Deps{
		Session:   presence,
		Transport: replication.NewNATSTransport(nc, "team", natsCfg),
		Display:   &fakeDisplay{},
		Prompter:  n.prompter,
	})

	ctx, stop := context.WithCancel(context.Background())
	presenceCtx, leave := context.WithCancel(ctx)
	n.stop, n.leave = stop, leave
	go func() {
		defer close(n.stopped)
		n.c.Run(ctx)
	}()
	go func() {
		defer close(n.left)
		presence.Run(presenceCtx)
	}()

	t.Cleanup(func() {
		leave()
		<-n.left
		stop()
		<-n.stopped
	})
	return n
}

func (n *node) view(t *testing.T) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := n.c.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	return v
}

func TestController_OverNATS(t *testing.T) {
	s := natstest.RunServer(t)

	// Bob joins as guest before anyone hosts.
	guest := startNode(t, s, bob, session.RoleGuest)
	natstest.Eventually(t, "guest joined", func() bool {
		return guest.view(t).Role == session.RoleGuest
	})
	if b := guest.view(t).Binding; b != replication.BindingUnbound {
		t.Fatalf("guest binding %s with no host", b)
	}

	host := startNode(t, s, alice, session.RoleHost)
	natstest.Eventually(t, "host roster", func() bool {
		return cmp.Equal([]string{"a", "b"}, memberIDs(host.view(t).Option))
	})
	natstest.Eventually(t, "guest bound and synced", func() bool {
		v := guest.view(t)
		return v.Binding == replication.BindingGuest && cmp.Equal([]string{"a", "b"}, memberIDs(v.Option))
	})

	// Alice drives first; after her one-second turn Bob confirms over the rpc route.
	host.c.Start()
	natstest.Eventually(t, "start prompt", func() bool {
		return cmp.Equal([]string{startPrompt.Message}, host.prompter.open())
	})
	host.prompter.answerLast(t, startPrompt, AnswerConfirmed)
	natstest.Eventually(t, "host is first driver", func() bool {
		return host.view(t).Option.IsDriver("a")
	})
	host.prompter.answerLast(t, driverPrompt, AnswerConfirmed)
	natstest.Eventually(t, "guest is asked to drive", func() bool {
		return cmp.Equal([]string{driverPrompt.Message}, guest.prompter.open())
	})
	guest.prompter.answerLast(t, driverPrompt, AnswerConfirmed)
	natstest.Eventually(t, "guest turn running on the host", func() bool {
		o := host.view(t).Option
		return o.State == state.PhaseTimerStarted && o.IsDriver("b")
	})

	// Leaving the session resets the guest and drops it from the roster.
	guest.leave()
	<-guest.left
	natstest.Eventually(t, "guest reset", func() bool {
		v := guest.view(t)
		return v.Role == session.RoleNone && v.Binding == replication.BindingUnbound && v.Option.State == state.PhaseActivated
	})
	natstest.Eventually(t, "host roster after leave", func() bool {
		return cmp.Equal([]string{"a"}, memberIDs(host.view(t).Option))
	})
}
