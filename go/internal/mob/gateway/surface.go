package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/mobster/go/internal/mob/controller"
	"github.com/rs/zerolog/log"
)

// Starter is notified when a client asks to start the rotation.
type Starter interface {
	Start() error
}

type pendingPrompt struct {
	id       string
	prompt   controller.Prompt
	reply    func(controller.Answer)
	openedAt time.Time
}

// Surface is the controller's Display and Prompter. It keeps the last status
// and every unanswered prompt so late-joining clients catch up.
type Surface struct {
	broadcast func(*Event)

	mu      sync.Mutex
	status  string
	accent  string
	prompts map[string]*pendingPrompt
	order   []string
	starter Starter
}

// NewSurface creates a surface that publishes through broadcast.
func NewSurface(broadcast func(*Event)) *Surface {
	return &Surface{
		broadcast: broadcast,
		prompts:   make(map[string]*pendingPrompt),
	}
}

// SetStarter sets the target of client Start messages.
func (s *Surface) SetStarter(starter Starter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starter = starter
}

func (s *Surface) SetStatusText(text string) {
	s.mu.Lock()
	s.status = text
	event := s.statusEventLocked()
	s.mu.Unlock()
	s.publish(event)
}

func (s *Surface) SetAccentColor(color string) {
	s.mu.Lock()
	if s.accent == color {
		s.mu.Unlock()
		return
	}
	s.accent = color
	event := s.statusEventLocked()
	s.mu.Unlock()
	s.publish(event)
}

// AskYesNo opens a prompt on every connected client. The first answer wins.
func (s *Surface) AskYesNo(p controller.Prompt, reply func(controller.Answer)) func() {
	pp := &pendingPrompt{
		id:       uuid.New().String(),
		prompt:   p,
		reply:    reply,
		openedAt: time.Now(),
	}

	s.mu.Lock()
	s.prompts[pp.id] = pp
	s.order = append(s.order, pp.id)
	s.mu.Unlock()

	log.Debug().Str("prompt_id", pp.id).Str("message", p.Message).Msg("prompt opened")
	s.publish(promptOpenedEvent(pp))
	return func() { s.withdraw(pp.id) }
}

// withdraw closes a prompt nobody answered. Its reply is never called.
func (s *Surface) withdraw(promptID string) {
	s.mu.Lock()
	_, ok := s.prompts[promptID]
	if ok {
		delete(s.prompts, promptID)
		s.order = removeID(s.order, promptID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	log.Debug().Str("prompt_id", promptID).Msg("prompt withdrawn")
	event, err := newEvent(EventTypePromptClosed, PromptClosedPayload{PromptID: promptID, Withdrawn: true})
	if err == nil {
		s.publish(event)
	}
}

// Answer resolves an open prompt. It reports false when the prompt is unknown
// or was already answered.
func (s *Surface) Answer(promptID string, confirmed bool) bool {
	s.mu.Lock()
	pp, ok := s.prompts[promptID]
	if ok {
		delete(s.prompts, promptID)
		s.order = removeID(s.order, promptID)
	}
	s.mu.Unlock()

	if !ok {
		log.Debug().Str("prompt_id", promptID).Msg("ignoring answer to closed prompt")
		return false
	}

	answer := controller.AnswerCancelled
	if confirmed {
		answer = controller.AnswerConfirmed
	}
	log.Info().
		Str("prompt_id", promptID).
		Str("answer", string(answer)).
		Dur("open_for", time.Since(pp.openedAt)).
		Msg("prompt answered")

	event, err := newEvent(EventTypePromptClosed, PromptClosedPayload{PromptID: promptID, Confirmed: confirmed})
	if err == nil {
		s.publish(event)
	}
	pp.reply(answer)
	return true
}

// Snapshot returns the events a new client needs: the status and open prompts.
func (s *Surface) Snapshot() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []*Event
	if s.status != "" || s.accent != "" {
		if e := s.statusEventLocked(); e != nil {
			events = append(events, e)
		}
	}
	for _, id := range s.order {
		if e := promptOpenedEvent(s.prompts[id]); e != nil {
			events = append(events, e)
		}
	}
	return events
}

// HandleClientMessage applies a message from a websocket client.
func (s *Surface) HandleClientMessage(connID string, msg ClientMessage) {
	switch msg.Type {
	case ClientMessagePromptAnswer:
		var payload PromptAnswerPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.PromptID == "" {
			log.Warn().Err(err).Str("connection_id", connID).Msg("invalid prompt answer")
			return
		}
		s.Answer(payload.PromptID, payload.Confirmed)

	case ClientMessageStart:
		s.mu.Lock()
		starter := s.starter
		s.mu.Unlock()
		if starter == nil {
			log.Warn().Str("connection_id", connID).Msg("start requested before the controller was attached")
			return
		}
		if err := starter.Start(); err != nil {
			log.Warn().Err(err).Str("connection_id", connID).Msg("failed to request start")
		}

	default:
		log.Warn().Str("connection_id", connID).Str("type", string(msg.Type)).Msg("unknown client message")
	}
}

func (s *Surface) statusEventLocked() *Event {
	event, err := newEvent(EventTypeStatusChanged, StatusChangedPayload{Text: s.status, Accent: s.accent})
	if err != nil {
		log.Error().Err(err).Msg("failed to build status event")
		return nil
	}
	return event
}

func (s *Surface) publish(event *Event) {
	if event != nil && s.broadcast != nil {
		s.broadcast(event)
	}
}

func promptOpenedEvent(pp *pendingPrompt) *Event {
	event, err := newEvent(EventTypePromptOpened, PromptOpenedPayload{
		PromptID: pp.id,
		Message:  pp.prompt.Message,
		Confirm:  pp.prompt.Confirm,
		Cancel:   pp.prompt.Cancel,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build prompt event")
		return nil
	}
	return event
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
