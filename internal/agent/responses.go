package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/apexion-ai/taskloop/internal/provider"
)

const (
	noResponseText        = "Failure: I did not provide a response."
	emptyResponseError    = "Unexpected API Response: The language model did not provide any assistant messages. This may indicate an issue with the API or the model's output."
	interruptedByFeedback = "[Response interrupted by user feedback]"
	interruptedByUser     = "[Response interrupted by user]"
	interruptedByAPIError = "[Response interrupted by API Error]"

	mistakeLimitText = "This may indicate a failure in the model's thought process or inability to use a tool properly, which can be mitigated with some user guidance (e.g. \"Try breaking down the task into smaller steps\")."

	cancelUser      = "user_cancelled"
	cancelStreaming = "streaming_failed"
)

const noToolsUsed = `[ERROR] You did not use a tool in your previous response! Please retry with a tool use.

# Reminder: Instructions for Tool Use

Tool uses are formatted using XML-style tags. The tool name is enclosed in opening and closing tags, and each parameter is similarly enclosed within its own set of tags. Here's the structure:

<tool_name>
<parameter1_name>value1</parameter1_name>
<parameter2_name>value2</parameter2_name>
...
</tool_name>

For example:

<attempt_completion>
<result>
I have completed the task...
</result>
</attempt_completion>

Always adhere to this format for all tool uses to ensure proper parsing and execution.

# Next Steps

If you have completed the user's task, use the attempt_completion tool.
If you require additional information from the user, use the ask_followup_question tool.
Otherwise, if you have not completed the task and do not need additional information, then proceed with the next step of the task.
(This is an automated message, so do not respond to it conversationally.)`

func taskText(task string) string {
	return fmt.Sprintf("<task>\n%s\n</task>", task)
}

func tooManyMistakes(feedback string) string {
	return fmt.Sprintf("You seem to be having trouble proceeding. The user has provided the following feedback to help guide you:\n<feedback>\n%s\n</feedback>", feedback)
}

// resumeNotice opens the first user turn after a resumption. ago is a
// humanized elapsed time such as "3 minutes ago".
func resumeNotice(ago, cwd, instructions string) string {
	s := fmt.Sprintf("[TASK RESUMPTION] This task was interrupted %s. It may or may not be complete, so please reassess the task context. "+
		"Be aware that the project state may have changed since then. The current working directory is now '%s'. "+
		"If the task has not been completed, retry the last step before interruption and proceed with completing the task.\n\n"+
		"Note: If you previously attempted a tool use that the user did not provide a result for, you should assume the tool use was not successful and assess whether you should retry.",
		ago, cwd)
	if instructions != "" {
		s += fmt.Sprintf("\n\nNew instructions for task continuation:\n<user_message>\n%s\n</user_message>", instructions)
	}
	return s
}

// formatRequest renders user content as the text of an api_req_started
// entry.
func formatRequest(content []provider.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch c.Type {
		case provider.ContentTypeText:
			parts = append(parts, c.Text)
		case provider.ContentTypeImage:
			parts = append(parts, "[Image]")
		case provider.ContentTypeToolResult:
			parts = append(parts, fmt.Sprintf("[%s Result]\n%s", c.ToolName, c.ToolResult))
		case provider.ContentTypeToolUse:
			parts = append(parts, fmt.Sprintf("[Tool Use: %s]", c.ToolName))
		}
	}
	return strings.Join(parts, "\n\n")
}

var (
	thinkingOpen  = regexp.MustCompile(`<thinking>\s?`)
	thinkingClose = regexp.MustCompile(`\s?</thinking>`)
	trailingTag   = regexp.MustCompile(`\s?<\/?[a-zA-Z_]*$`)
)

// displayText strips thinking tags from assistant text. While the text
// still streams, a half-written tag at the end is hidden too.
func displayText(content string, partial bool) string {
	content = thinkingOpen.ReplaceAllString(content, "")
	content = thinkingClose.ReplaceAllString(content, "")
	if partial {
		content = trailingTag.ReplaceAllString(content, "")
	}
	return content
}

func imageBlocks(images []string) []provider.Content {
	blocks := make([]provider.Content, 0, len(images))
	for _, img := range images {
		blocks = append(blocks, provider.ImageContent(img))
	}
	return blocks
}
