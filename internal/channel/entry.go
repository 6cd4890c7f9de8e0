// Package channel implements the ask/say protocol between a running task and
// the surface that shows it to the user.
package channel

// Type says whether an entry expects an answer.
type Type string

const (
	TypeAsk Type = "ask"
	TypeSay Type = "say"
)

// AskKind names the question being asked.
type AskKind string

const (
	AskFollowup            AskKind = "followup"
	AskCommand             AskKind = "command"
	AskCommandOutput       AskKind = "command_output"
	AskCompletionResult    AskKind = "completion_result"
	AskTool                AskKind = "tool"
	AskAPIReqFailed        AskKind = "api_req_failed"
	AskResumeTask          AskKind = "resume_task"
	AskResumeCompletedTask AskKind = "resume_completed_task"
	AskMistakeLimitReached AskKind = "mistake_limit_reached"
	AskBrowserActionLaunch AskKind = "browser_action_launch"
)

// SayKind names a notification.
type SayKind string

const (
	SayTask             SayKind = "task"
	SayError            SayKind = "error"
	SayAPIReqStarted    SayKind = "api_req_started"
	SayAPIReqFinished   SayKind = "api_req_finished"
	SayText             SayKind = "text"
	SayCompletionResult SayKind = "completion_result"
	SayUserFeedback     SayKind = "user_feedback"
	SayAPIReqRetried    SayKind = "api_req_retried"
	SayCommand          SayKind = "command"
	SayCommandOutput    SayKind = "command_output"
	SayTool             SayKind = "tool"
	SayInfo             SayKind = "info"
)

// Entry is one line of the UI-facing session log. TS is assigned once and
// never changes; it identifies the entry to the surface.
type Entry struct {
	TS      int64    `json:"ts"`
	Type    Type     `json:"type"`
	Ask     AskKind  `json:"ask,omitempty"`
	Say     SayKind  `json:"say,omitempty"`
	Text    string   `json:"text,omitempty"`
	Images  []string `json:"images,omitempty"`
	Partial bool     `json:"partial,omitempty"`
}

// Kind returns the ask or say kind as a plain string.
func (e Entry) Kind() string {
	if e.Type == TypeAsk {
		return string(e.Ask)
	}
	return string(e.Say)
}

// ResponseKind is the surface's answer to an ask.
type ResponseKind string

const (
	Approve ResponseKind = "yesButtonTapped"
	Reject  ResponseKind = "noButtonTapped"
	Message ResponseKind = "messageResponse"
)

// Response is what the surface sends back for a non-partial ask.
type Response struct {
	Kind   ResponseKind
	Text   string
	Images []string
}
