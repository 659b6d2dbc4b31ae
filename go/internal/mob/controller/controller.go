package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mobster/go/internal/mob/commands"
	"github.com/mcdev12/mobster/go/internal/mob/replication"
	"github.com/mcdev12/mobster/go/internal/mob/rotation"
	"github.com/mcdev12/mobster/go/internal/mob/session"
	"github.com/mcdev12/mobster/go/internal/mob/state"
	"github.com/mcdev12/mobster/go/internal/mob/timer"
	"github.com/mcdev12/mobster/go/internal/models"
	"github.com/rs/zerolog/log"
)

var ErrInboxFull = errors.New("controller inbox full")

// Config holds the controller settings
type Config struct {
	IntervalSec    int
	ServiceName    string
	ConfirmTimeout time.Duration
	BindRetry      time.Duration // how often an unbound guest looks for the host again
}

// DefaultConfig returns default controller configuration
func DefaultConfig() Config {
	return Config{
		IntervalSec:    state.DefaultIntervalSec,
		ServiceName:    "mobster",
		ConfirmTimeout: 5 * time.Second,
		BindRetry:      3 * time.Second,
	}
}

// Deps are the collaborators the controller talks to.
type Deps struct {
	Session   session.Bridge
	Transport replication.Transport
	Display   Display
	Prompter  Prompter
	Clock     clockwork.Clock
}

// Controller owns the local copy of the rotation. All state is confined to
// the Run goroutine; everything else only posts messages to the inbox.
type Controller struct {
	cfg      Config
	clock    clockwork.Clock
	session  session.Bridge
	channel  *replication.Channel
	display  Display
	prompter Prompter
	timer    *timer.Engine
	inbox    chan Msg

	option      state.Option
	role        session.Role
	memberIndex int
	promptSeq   uint64
	promptOpen  uint64 // token of the prompt whose answer is still wanted
	withdraw    func()
	bindRetry   clockwork.Timer
}

// New creates a controller. The replication channel stays unbound until
// Run applies the session role.
func New(cfg Config, deps Deps) *Controller {
	if cfg.IntervalSec <= 0 {
		cfg.IntervalSec = state.DefaultIntervalSec
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfig().ConfirmTimeout
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultConfig().ServiceName
	}
	if cfg.BindRetry <= 0 {
		cfg.BindRetry = DefaultConfig().BindRetry
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	c := &Controller{
		cfg:         cfg,
		clock:       clock,
		session:     deps.Session,
		display:     deps.Display,
		prompter:    deps.Prompter,
		timer:       timer.NewEngine(clock),
		inbox:       make(chan Msg, 64),
		option:      state.New(cfg.IntervalSec),
		role:        session.RoleNone,
		memberIndex: -1,
	}
	c.channel = replication.NewChannel(deps.Transport, cfg.ServiceName, c, clock)
	return c
}

// Run processes inbox messages, session events and timer events one at a
// time until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()

	c.applyRole(ctx, c.session.Role())

	for {
		select {
		case <-ctx.Done():
			c.drainRevocation()
			return ctx.Err()
		case m := <-c.inbox:
			c.handle(ctx, m)
		case ev := <-c.session.Events():
			c.handleSession(ctx, ev)
		case ev := <-c.timer.Events():
			c.handleTimer(ctx, ev)
		}
	}
}

// Start asks to start a rotation.
func (c *Controller) Start() error {
	if !c.post(StartRequested{}) {
		return ErrInboxFull
	}
	return nil
}

// State returns a snapshot taken inside the loop.
func (c *Controller) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if !c.post(GetState{Reply: reply}) {
		return View{}, ErrInboxFull
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// HandleSync is called by the replication channel when bound as guest.
func (c *Controller) HandleSync(opt state.Option) {
	c.post(syncReceived{option: opt})
}

// HandleRequestSync is called by the replication channel when bound as host.
func (c *Controller) HandleRequestSync(requester models.Participant) {
	c.post(syncRequested{requester: requester})
}

// HandleConfirmDriver is called by the replication channel when bound as
// host. It blocks until the loop has applied or rejected the confirmation.
func (c *Controller) HandleConfirmDriver(ctx context.Context, driver models.Participant) error {
	reply := make(chan error, 1)
	if !c.post(confirmDriverRequested{driver: driver, reply: reply}) {
		return ErrInboxFull
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) post(m Msg) bool {
	select {
	case c.inbox <- m:
		return true
	default:
		log.Warn().Str("msg", fmt.Sprintf("%T", m)).Msg("controller inbox full, dropping message")
		return false
	}
}

func (c *Controller) handle(ctx context.Context, m Msg) {
	switch msg := m.(type) {
	case StartRequested:
		c.onStartRequested(ctx)
	case GetState:
		msg.Reply <- c.view()
	case promptAnswered:
		c.onPromptAnswered(ctx, msg)
	case syncReceived:
		c.onSync(msg.option)
	case syncRequested:
		if c.role == session.RoleHost {
			log.Debug().Str("requester", msg.requester.ID).Msg("guest requested sync")
			c.sync(ctx)
		}
	case confirmDriverRequested:
		msg.reply <- c.onRemoteConfirm(ctx, msg.driver)
	case confirmAcked:
		c.onConfirmAcked(msg)
	case bindRetryDue:
		c.bindRetry = nil
		if c.role == session.RoleGuest && c.channel.Binding() == replication.BindingUnbound {
			c.bindGuest(ctx)
		}
	default:
		log.Warn().Str("msg", fmt.Sprintf("%T", m)).Msg("unhandled controller message")
	}
}

func (c *Controller) handleSession(ctx context.Context, ev session.Event) {
	switch ev.Kind {
	case session.EventRoleChanged:
		c.applyRole(ctx, ev.Role)
	case session.EventPeersChanged:
		switch {
		case c.role == session.RoleHost:
			c.refreshRoster(ctx)
		case c.role == session.RoleGuest && c.channel.Binding() == replication.BindingUnbound:
			// A host may have joined since the last lookup.
			c.bindGuest(ctx)
		}
	}
}

// drainRevocation applies a session exit that is already queued when the
// loop stops, so leaving the session during shutdown still resets.
func (c *Controller) drainRevocation() {
	for {
		select {
		case ev := <-c.session.Events():
			if ev.Kind == session.EventRoleChanged && ev.Role == session.RoleNone {
				c.applyRole(context.Background(), session.RoleNone)
			}
		default:
			return
		}
	}
}

func (c *Controller) handleTimer(ctx context.Context, ev timer.Event) {
	if !c.timer.Current(ev.RunID) || c.option.State != state.PhaseTimerStarted || c.option.Driver == nil {
		return
	}

	switch ev.Type {
	case timer.EventTick:
		c.display.SetStatusText(StatusRunning(*c.option.Driver, ev.Remaining))
	case timer.EventExpired:
		c.display.SetStatusText(StatusRunning(*c.option.Driver, 0))
		if c.role == session.RoleHost {
			c.rotate(ctx)
		}
	}
}

// applyRole resets the local rotation and rebinds the channel for role.
func (c *Controller) applyRole(ctx context.Context, role session.Role) {
	c.stopBindRetry()
	c.resetSession()
	c.channel.Unbind()
	c.role = role

	log.Info().Str("role", string(role)).Msg("session role applied")

	switch role {
	case session.RoleHost:
		if err := c.channel.BindHost(ctx, c.localIdentity().ID); err != nil {
			log.Warn().Err(err).Msg("failed to share mob service, staying unbound")
			return
		}
		c.refreshRoster(ctx)

	case session.RoleGuest:
		c.bindGuest(ctx)
	}
}

// bindGuest looks up the host's service and asks it for the current option.
// While no host answers, another attempt is scheduled.
func (c *Controller) bindGuest(ctx context.Context) {
	local := c.localIdentity()
	if err := c.channel.BindGuest(ctx, local.ID); err != nil {
		if errors.Is(err, replication.ErrServiceUnavailable) {
			log.Warn().Err(err).Dur("retry_in", c.cfg.BindRetry).Msg("host offers no mob service, staying unbound")
		} else {
			log.Warn().Err(err).Dur("retry_in", c.cfg.BindRetry).Msg("failed to look up mob service, staying unbound")
		}
		c.scheduleBindRetry()
		return
	}
	c.stopBindRetry()
	if err := c.channel.Notify(ctx, commands.RequestSync{Requester: local}); err != nil {
		log.Warn().Err(err).Msg("failed to request sync from host")
	}
}

func (c *Controller) scheduleBindRetry() {
	if c.bindRetry != nil {
		return
	}
	c.bindRetry = c.clock.AfterFunc(c.cfg.BindRetry, func() {
		c.post(bindRetryDue{})
	})
}

func (c *Controller) stopBindRetry() {
	if c.bindRetry != nil {
		c.bindRetry.Stop()
		c.bindRetry = nil
	}
}

// resetSession returns to an empty rotation after access to the session changed.
func (c *Controller) resetSession() {
	c.option = state.Reset(c.cfg.IntervalSec)
	c.memberIndex = -1
	c.enter()
}

func (c *Controller) refreshRoster(ctx context.Context) {
	var members []models.Participant
	if local := c.session.LocalIdentity(); local != nil {
		members = append(members, *local)
	}
	for _, p := range c.session.Peers() {
		if p != nil {
			members = append(members, *p)
		}
	}

	c.option, c.memberIndex = state.ReplaceMembers(c.option, members, c.memberIndex)
	log.Debug().
		Int("members", len(c.option.Members)).
		Int("member_index", c.memberIndex).
		Str("state", string(c.option.State)).
		Msg("roster updated")
	c.sync(ctx)
}

func (c *Controller) onStartRequested(ctx context.Context) {
	switch {
	case c.role != session.RoleHost && c.option.State == state.PhaseActivated:
		log.Info().Str("role", string(c.role)).Msg("only the host can start the mob timer")

	case c.option.State == state.PhaseActivated:
		next, err := state.RequestStart(c.option)
		if err != nil {
			log.Warn().Err(err).Msg("start rejected")
			return
		}
		c.transition(ctx, next)

	case c.option.State == state.PhaseWaitStart && c.role == session.RoleHost:
		c.ask(promptStart, startPrompt)

	case c.option.State == state.PhaseWaitDriver && c.option.IsDriver(c.localIdentity().ID):
		c.ask(promptDriver, driverPrompt)

	default:
		log.Debug().Str("state", string(c.option.State)).Msg("nothing to start")
	}
}

func (c *Controller) onPromptAnswered(ctx context.Context, msg promptAnswered) {
	if msg.token != c.promptOpen {
		log.Debug().Str("prompt", string(msg.kind)).Msg("ignoring answer to a stale prompt")
		return
	}
	c.promptOpen = 0
	c.withdraw = nil

	switch msg.kind {
	case promptStart:
		if c.option.State != state.PhaseWaitStart || c.role != session.RoleHost {
			return
		}
		if msg.answer != AnswerConfirmed {
			next, err := state.CancelStart(c.option)
			if err != nil {
				log.Warn().Err(err).Msg("cancel rejected")
				return
			}
			c.transition(ctx, next)
			return
		}
		c.rotate(ctx)

	case promptDriver:
		local := c.localIdentity()
		if c.option.State != state.PhaseWaitDriver || !c.option.IsDriver(local.ID) {
			return
		}
		if msg.answer != AnswerConfirmed {
			log.Info().Msg("driver turn declined, waiting")
			return
		}
		switch c.role {
		case session.RoleHost:
			next, err := state.ConfirmDriver(c.option, local.ID, c.clock.Now())
			if err != nil {
				log.Warn().Err(err).Msg("confirm driver rejected")
				return
			}
			c.transition(ctx, next)
		case session.RoleGuest:
			c.requestConfirm(ctx, local)
		}
	}
}

// requestConfirm asks the host to start our turn without blocking the loop.
func (c *Controller) requestConfirm(ctx context.Context, driver models.Participant) {
	go func() {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
		err := c.channel.Request(rctx, commands.ConfirmDriver{Driver: driver})
		c.post(confirmAcked{driver: driver, err: err})
	}()
}

func (c *Controller) onConfirmAcked(msg confirmAcked) {
	switch {
	case msg.err == nil:
		log.Debug().Str("driver", msg.driver.ID).Msg("host accepted driver confirmation")
	case errors.Is(msg.err, replication.ErrRejected):
		log.Warn().Err(msg.err).Str("driver", msg.driver.ID).Msg("host rejected driver confirmation")
	default:
		log.Warn().Err(msg.err).Str("driver", msg.driver.ID).Msg("driver confirmation did not reach the host")
		if c.option.State == state.PhaseWaitDriver && c.option.IsDriver(msg.driver.ID) {
			c.ask(promptDriver, driverPrompt)
		}
	}
}

// onRemoteConfirm applies a guest's ConfirmDriver. The returned error is sent
// back to the guest as a negative acknowledgement.
func (c *Controller) onRemoteConfirm(ctx context.Context, driver models.Participant) error {
	if c.role != session.RoleHost {
		return fmt.Errorf("%w: not hosting", replication.ErrNotBound)
	}
	next, err := state.ConfirmDriver(c.option, driver.ID, c.clock.Now())
	if err != nil {
		log.Warn().Err(err).Str("driver", driver.ID).Msg("confirm driver rejected")
		return err
	}
	c.transition(ctx, next)
	return nil
}

// rotate hands the turn to the next member. An empty roster leaves
// everything as it is.
func (c *Controller) rotate(ctx context.Context) {
	next, index, err := state.NextTurn(c.option, c.memberIndex)
	if err != nil {
		if errors.Is(err, rotation.ErrNoParticipants) {
			log.Warn().Str("state", string(c.option.State)).Msg("no participants to rotate, staying put")
			return
		}
		log.Warn().Err(err).Msg("rotation rejected")
		return
	}
	c.memberIndex = index
	log.Info().
		Int("member_index", index).
		Str("driver", next.Driver.ID).
		Msg("next driver selected")
	c.transition(ctx, next)
}

// transition installs next on the host, runs entry effects and syncs guests.
func (c *Controller) transition(ctx context.Context, next state.Option) {
	prev := c.option.State
	c.option = next
	log.Info().Str("from", string(prev)).Str("state", string(next.State)).Msg("mob state changed")
	c.enter()
	c.sync(ctx)
}

// onSync mirrors the host's option. Entry effects only run when the phase
// changed, so a repeated sync never re-arms or re-prompts.
func (c *Controller) onSync(opt state.Option) {
	if c.role != session.RoleGuest {
		log.Debug().Str("role", string(c.role)).Msg("ignoring sync outside guest role")
		return
	}

	prev := c.option.State
	c.option = opt.Clone()
	c.memberIndex = -1
	if c.option.Driver != nil {
		c.memberIndex = rotation.IndexOf(c.option.Members, c.option.Driver.ID)
	}

	if c.option.State != prev {
		log.Info().Str("from", string(prev)).Str("state", string(c.option.State)).Msg("mirrored host state")
		c.enter()
	}
}

// enter runs the side effects of arriving in the current phase.
func (c *Controller) enter() {
	c.closePrompt()
	local := c.localIdentity()

	switch c.option.State {
	case state.PhaseActivated:
		c.timer.Disarm()
		c.display.SetAccentColor("")
		c.display.SetStatusText(StatusActivated)

	case state.PhaseWaitStart:
		c.timer.Disarm()
		c.display.SetAccentColor("")
		c.display.SetStatusText(StatusWaitStart)
		if c.role == session.RoleHost {
			c.ask(promptStart, startPrompt)
		}

	case state.PhaseWaitDriver:
		c.timer.Disarm()
		c.display.SetStatusText(StatusWaitDriver)
		if c.option.IsDriver(local.ID) {
			c.display.SetAccentColor(AccentDriver)
			c.ask(promptDriver, driverPrompt)
		} else {
			c.display.SetAccentColor("")
		}

	case state.PhaseTimerStarted:
		c.display.SetAccentColor("")
		start := *c.option.StartTime
		c.timer.Arm(start, c.option.MobTimeIntervalSec)
		remaining := timer.Remaining(c.clock.Now(), start, c.option.MobTimeIntervalSec)
		c.display.SetStatusText(StatusRunning(*c.option.Driver, remaining))
	}
}

// ask opens p, replacing whatever prompt was still open.
func (c *Controller) ask(kind promptKind, p Prompt) {
	c.closePrompt()
	c.promptSeq++
	token := c.promptSeq
	c.promptOpen = token
	c.withdraw = c.prompter.AskYesNo(p, func(a Answer) {
		c.post(promptAnswered{kind: kind, token: token, answer: a})
	})
}

// closePrompt takes down the open prompt, if any. A late answer to it is
// ignored by the token check.
func (c *Controller) closePrompt() {
	if c.withdraw != nil {
		c.withdraw()
		c.withdraw = nil
	}
	c.promptOpen = 0
}

func (c *Controller) sync(ctx context.Context) {
	if c.role != session.RoleHost {
		return
	}
	if err := c.channel.Notify(ctx, commands.Sync{Option: c.option.Clone()}); err != nil {
		log.Warn().Err(err).Str("state", string(c.option.State)).Msg("failed to sync guests")
	}
}

func (c *Controller) view() View {
	return View{
		Role:        c.role,
		Binding:     c.channel.Binding(),
		MemberIndex: c.memberIndex,
		Option:      c.option.Clone(),
	}
}

// localIdentity returns the local participant, or the zero participant when anonymous.
func (c *Controller) localIdentity() models.Participant {
	if p := c.session.LocalIdentity(); p != nil {
		return *p
	}
	return models.Participant{}
}

func (c *Controller) shutdown() {
	c.stopBindRetry()
	c.timer.Disarm()
	c.channel.Unbind()
}
