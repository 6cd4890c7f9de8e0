package tools

import (
	"context"
	"fmt"
)

// FollowupTool and CompletionTool describe the two tools that talk to the
// user instead of the workspace. The loop handles their invocations; they
// are registered so the prompt and the parser know about them.

type FollowupTool struct{}

func (t *FollowupTool) Name() string                     { return AskFollowupQuestion }
func (t *FollowupTool) IsReadOnly() bool                 { return true }
func (t *FollowupTool) PermissionLevel() PermissionLevel { return PermissionRead }

func (t *FollowupTool) Description() string {
	return "Ask the user a question to gather additional information needed to complete the task. " +
		"Use this when you encounter ambiguities, need clarification, or require more details to " +
		"proceed effectively. Use it judiciously to balance gathering necessary information with " +
		"avoiding excessive back-and-forth."
}

func (t *FollowupTool) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "question", Required: true, Description: "The question to ask the user. This should be a clear, specific question that addresses the information you need."},
	}
}

func (t *FollowupTool) Preview(params map[string]string, _ bool) Preview {
	return Preview{Kind: PreviewTool, Text: params["question"]}
}

func (t *FollowupTool) Execute(context.Context, map[string]string) (Result, error) {
	return Result{}, fmt.Errorf("%s is answered by the user", AskFollowupQuestion)
}

type CompletionTool struct{}

func (t *CompletionTool) Name() string                     { return AttemptCompletion }
func (t *CompletionTool) IsReadOnly() bool                 { return false }
func (t *CompletionTool) PermissionLevel() PermissionLevel { return PermissionRead }

func (t *CompletionTool) Description() string {
	return "Once you've completed the task, use this tool to present the result to the user. " +
		"Optionally you may provide a CLI command to showcase the result of your work, but avoid " +
		"using commands like 'echo' or 'cat' that merely print text. The user may respond with " +
		"feedback if they are not satisfied with the result."
}

func (t *CompletionTool) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "result", Required: true, Description: "The result of the task. Formulate this result in a way that is final and does not require further input from the user. Don't end your result with questions or offers for further assistance."},
		{Name: "command", Description: "A CLI command to execute to show a live demo of the result to the user, e.g. 'open index.html'."},
	}
}

func (t *CompletionTool) Preview(params map[string]string, _ bool) Preview {
	return Preview{Kind: PreviewTool, Text: params["result"]}
}

func (t *CompletionTool) Execute(context.Context, map[string]string) (Result, error) {
	return Result{}, fmt.Errorf("%s is handled by the task loop", AttemptCompletion)
}
