package controller

import (
	"fmt"

	"github.com/mcdev12/mobster/go/internal/models"
)

// Status bar texts and the accent colour shown while the local user is the
// pending driver.
const (
	StatusActivated  = "🛞 Mob"
	StatusWaitStart  = "🛞 Waiting start"
	StatusWaitDriver = "🛞 Waiting driver"

	AccentDriver = "#d68111"
)

// StatusRunning renders the status while a turn is running.
func StatusRunning(driver models.Participant, remaining int) string {
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("🛞 %s %ds", driver.Label(), remaining)
}

// Display is the status surface. Last write wins. An empty accent clears it.
type Display interface {
	SetStatusText(text string)
	SetAccentColor(color string)
}

// Answer is the user's choice on a prompt.
type Answer string

const (
	AnswerConfirmed Answer = "Confirmed"
	AnswerCancelled Answer = "Cancelled"
)

// Prompt is a yes/no question shown to the local user.
type Prompt struct {
	Message string `json:"message"`
	Confirm string `json:"confirm"`
	Cancel  string `json:"cancel"`
}

// Prompter shows a prompt and calls reply at most once with the user's answer.
// There is no timeout; an unanswered prompt simply never replies. The returned
// withdraw func takes the prompt down unanswered and is a no-op once answered.
type Prompter interface {
	AskYesNo(p Prompt, reply func(Answer)) (withdraw func())
}

var (
	startPrompt  = Prompt{Message: "Start mob timer?", Confirm: "Start", Cancel: "Cancel"}
	driverPrompt = Prompt{Message: "Next Driver is you!", Confirm: "Continue", Cancel: "Cancel"}
)
