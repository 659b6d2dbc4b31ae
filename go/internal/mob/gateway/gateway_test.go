package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/mobster/go/internal/mob/controller"
	"github.com/mcdev12/mobster/go/internal/mob/replication"
	"github.com/mcdev12/mobster/go/internal/mob/session"
	"github.com/mcdev12/mobster/go/internal/mob/state"
	"github.com/mcdev12/mobster/go/internal/models"
)

type fakeMob struct {
	view   controller.View
	starts chan struct{}
}

func newFakeMob() *fakeMob {
	return &fakeMob{starts: make(chan struct{}, 8)}
}

func (m *fakeMob) Start() error {
	m.starts <- struct{}{}
	return nil
}

func (m *fakeMob) State(ctx context.Context) (controller.View, error) {
	return m.view, nil
}

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

func newTestGateway(t *testing.T, mob MobController) (*Service, *httptest.Server) {
	t.Helper()
	return newTestGatewayWithConn(t, mob, nil)
}

func newTestGatewayWithConn(t *testing.T, mob MobController, conn ConnStatus) (*Service, *httptest.Server) {
	t.Helper()
	svc := NewService(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Start(ctx)

	srv := httptest.NewServer(svc.Handler(mob, conn))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return svc, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/mob"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, want EventType) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read %s: %v", want, err)
		}
		if ev.Type == want {
			return ev
		}
	}
}

func writeMessage(t *testing.T, conn *websocket.Conn, msgType ClientMessageType, payload any) {
	t.Helper()
	msg := ClientMessage{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		msg.Data = data
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestGateway_StatusAndPrompts(t *testing.T) {
	mob := newFakeMob()
	svc, srv := newTestGateway(t, mob)
	surface := svc.Surface()

	surface.SetStatusText(controller.StatusWaitDriver)
	surface.SetAccentColor(controller.AccentDriver)

	conn := dial(t, srv)
	ev := readEvent(t, conn, EventTypeStatusChanged)
	var status StatusChangedPayload
	if err := json.Unmarshal(ev.Data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Text != controller.StatusWaitDriver || status.Accent != controller.AccentDriver {
		t.Fatalf("snapshot status %+v", status)
	}

	answers := make(chan controller.Answer, 2)
	surface.AskYesNo(controller.Prompt{Message: "Next Driver is you!", Confirm: "Continue", Cancel: "Cancel"}, func(a controller.Answer) {
		answers <- a
	})

	ev = readEvent(t, conn, EventTypePromptOpened)
	var opened PromptOpenedPayload
	if err := json.Unmarshal(ev.Data, &opened); err != nil {
		t.Fatalf("unmarshal prompt: %v", err)
	}
	if opened.Message != "Next Driver is you!" || opened.PromptID == "" {
		t.Fatalf("prompt %+v", opened)
	}

	writeMessage(t, conn, ClientMessagePromptAnswer, PromptAnswerPayload{PromptID: opened.PromptID, Confirmed: true})
	select {
	case a := <-answers:
		if a != controller.AnswerConfirmed {
			t.Fatalf("answer %s", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("prompt answer never reached the controller")
	}
	readEvent(t, conn, EventTypePromptClosed)

	if surface.Answer(opened.PromptID, false) {
		t.Fatal("a prompt must only be answered once")
	}
	if len(answers) != 0 {
		t.Fatal("reply called twice")
	}

	writeMessage(t, conn, ClientMessageStart, nil)
	select {
	case <-mob.starts:
	case <-time.After(2 * time.Second):
		t.Fatal("start message never reached the controller")
	}
}

func TestGateway_LateClientSeesOpenPrompts(t *testing.T) {
	svc, srv := newTestGateway(t, newFakeMob())
	surface := svc.Surface()

	surface.AskYesNo(controller.Prompt{Message: "first"}, func(controller.Answer) {})
	surface.AskYesNo(controller.Prompt{Message: "second"}, func(controller.Answer) {})

	conn := dial(t, srv)
	var got []string
	for i := 0; i < 2; i++ {
		ev := readEvent(t, conn, EventTypePromptOpened)
		var p PromptOpenedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, p.Message)
	}
	if strings.Join(got, ",") != "first,second" {
		t.Fatalf("snapshot prompts %v", got)
	}
}

func TestGateway_WithdrawnPromptIsGone(t *testing.T) {
	svc, srv := newTestGateway(t, newFakeMob())
	surface := svc.Surface()
	conn := dial(t, srv)

	replies := make(chan controller.Answer, 1)
	withdraw := surface.AskYesNo(controller.Prompt{Message: "Start mob timer?"}, func(a controller.Answer) {
		replies <- a
	})
	ev := readEvent(t, conn, EventTypePromptOpened)
	var opened PromptOpenedPayload
	if err := json.Unmarshal(ev.Data, &opened); err != nil {
		t.Fatalf("unmarshal prompt: %v", err)
	}

	withdraw()
	ev = readEvent(t, conn, EventTypePromptClosed)
	var closed PromptClosedPayload
	if err := json.Unmarshal(ev.Data, &closed); err != nil {
		t.Fatalf("unmarshal close: %v", err)
	}
	if closed.PromptID != opened.PromptID || !closed.Withdrawn {
		t.Fatalf("close %+v, want withdrawn %s", closed, opened.PromptID)
	}

	for _, e := range surface.Snapshot() {
		if e.Type == EventTypePromptOpened {
			t.Fatal("withdrawn prompt still offered to new clients")
		}
	}
	if surface.Answer(opened.PromptID, true) {
		t.Fatal("a withdrawn prompt must not accept answers")
	}
	withdraw()
	if len(replies) != 0 {
		t.Fatal("withdrawn prompt replied")
	}
}

func TestGateway_HTTP(t *testing.T) {
	start := time.Now().Add(-3 * time.Second)
	driver := models.Participant{ID: "a", DisplayName: "Alice"}
	mob := newFakeMob()
	mob.view = controller.View{
		Role:        session.RoleHost,
		Binding:     replication.BindingHost,
		MemberIndex: 0,
		Option: state.Option{
			State:              state.PhaseTimerStarted,
			Members:            []models.Participant{driver},
			Driver:             &driver,
			StartTime:          &start,
			MobTimeIntervalSec: 10,
		},
	}
	_, srv := newTestGateway(t, mob)

	t.Run("state", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/mob/state")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d", resp.StatusCode)
		}

		var body struct {
			Role          string       `json:"role"`
			Binding       string       `json:"binding"`
			Option        state.Option `json:"option"`
			TimeRemaining *int         `json:"time_remaining_sec"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Role != "Host" || body.Binding != "Host" || body.Option.State != state.PhaseTimerStarted {
			t.Fatalf("body %+v", body)
		}
		if body.TimeRemaining == nil || *body.TimeRemaining < 1 || *body.TimeRemaining > 7 {
			t.Fatalf("time remaining %v", body.TimeRemaining)
		}
	})

	t.Run("start", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/mob/start", "application/json", nil)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status %d", resp.StatusCode)
		}
		select {
		case <-mob.starts:
		default:
			t.Fatal("start not forwarded")
		}
	})

	t.Run("start requires POST", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/mob/start")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("status %d", resp.StatusCode)
		}
	})
}

func TestGateway_Health(t *testing.T) {
	tests := []struct {
		name       string
		conn       ConnStatus
		wantStatus int
	}{
		{"no transport", nil, http.StatusOK},
		{"connected", fakeConn(true), http.StatusOK},
		{"disconnected", fakeConn(false), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mob := newFakeMob()
			mob.view = controller.View{Role: session.RoleGuest, Binding: replication.BindingGuest}
			_, srv := newTestGatewayWithConn(t, mob, tt.conn)

			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var status HealthStatus
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !status.ControllerResponsive || status.Binding != "Guest" {
				t.Fatalf("health %+v", status)
			}
		})
	}
}
