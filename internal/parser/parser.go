package parser

import (
	"regexp"
	"strings"
)

// Vocabulary is the set of tool and parameter tag names the parser
// recognises. Any other tag is literal text.
type Vocabulary struct {
	tools  []string
	params []string
}

// NewVocabulary builds a vocabulary from tool and parameter names.
func NewVocabulary(tools, params []string) Vocabulary {
	return Vocabulary{tools: append([]string(nil), tools...), params: append([]string(nil), params...)}
}

func (v Vocabulary) hasToolTagPrefix(s string) bool {
	for _, name := range v.tools {
		tag := "<" + name + ">"
		if strings.HasPrefix(tag, s) || strings.HasPrefix(s, tag) {
			return true
		}
	}
	return false
}

var (
	thinkingOpen    = regexp.MustCompile(`<thinking>\s?`)
	thinkingClose   = regexp.MustCompile(`\s?</thinking>`)
	trailingPartial = regexp.MustCompile(`<(/)?[A-Za-z_]*$`)
)

// Parse recomputes the segment list for the text accumulated so far.
// final reports that no more text will arrive; in that case every
// segment is returned complete.
func Parse(raw string, vocab Vocabulary, final bool) []Segment {
	if !final && !strings.Contains(raw, "\n") {
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, "<") && !vocab.hasToolTagPrefix(trimmed) {
			return nil
		}
	}

	var (
		segs      []Segment
		sawTool   bool
		inText    bool
		textStart int

		tool       *ToolInvocation
		toolStart  int
		param      string
		paramStart int
	)

	for i := 0; i < len(raw); i++ {
		acc := raw[:i+1]

		if tool != nil && param != "" {
			value := acc[paramStart:]
			closing := "</" + param + ">"
			if strings.HasSuffix(value, closing) {
				tool.Params.set(param, cleanParam(param, value[:len(value)-len(closing)]))
				param = ""
			}
			continue
		}

		if tool != nil {
			body := acc[toolStart:]
			if strings.HasSuffix(body, "</"+tool.Name+">") {
				tool.Partial = false
				segs = append(segs, tool)
				tool = nil
				continue
			}
			for _, p := range vocab.params {
				if strings.HasSuffix(acc, "<"+p+">") {
					param = p
					paramStart = len(acc)
					break
				}
			}
			// write_to_file content may itself contain "</content>"; the
			// parameter ends at the last one seen.
			if tool.Name == "write_to_file" && strings.HasSuffix(acc, "</content>") {
				start := strings.Index(body, "<content>")
				end := strings.LastIndex(body, "</content>")
				if start != -1 && end > start {
					tool.Params.set("content", cleanParam("content", body[start+len("<content>"):end]))
				}
			}
			continue
		}

		started := false
		for _, name := range vocab.tools {
			tag := "<" + name + ">"
			if !strings.HasSuffix(acc, tag) {
				continue
			}
			if inText && !sawTool {
				segs = appendText(segs, acc[textStart:len(acc)-len(tag)], false)
			}
			inText = false
			sawTool = true
			tool = &ToolInvocation{Name: name, Partial: true}
			toolStart = len(acc)
			started = true
			break
		}
		if started {
			continue
		}
		if !inText && !sawTool {
			inText = true
			textStart = i
		}
	}

	if tool != nil {
		if param != "" {
			tool.Params.set(param, cleanPartialParam(param, raw[paramStart:]))
		}
		segs = append(segs, tool)
	}
	if inText && !sawTool {
		segs = appendText(segs, raw[textStart:], !final)
	}

	if final {
		Finalize(segs)
	}
	return segs
}

// appendText adds the single text segment, cleaned for display. Empty text
// produces no segment.
func appendText(segs []Segment, content string, partial bool) []Segment {
	content = thinkingOpen.ReplaceAllString(content, "")
	content = thinkingClose.ReplaceAllString(content, "")
	if partial {
		content = trailingPartial.ReplaceAllString(content, "")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return segs
	}
	return append(segs, &TextSegment{Content: content, Partial: partial})
}

func cleanParam(name, value string) string {
	if name != "content" {
		return strings.TrimSpace(value)
	}
	value = strings.TrimPrefix(value, "\n")
	return strings.TrimSuffix(value, "\n")
}

// cleanPartialParam also drops a half-written closing tag at the end of the
// value so previews never show it.
func cleanPartialParam(name, value string) string {
	closing := "</" + name + ">"
	if idx := strings.LastIndex(value, "<"); idx != -1 && strings.HasPrefix(closing, value[idx:]) {
		value = value[:idx]
	}
	return cleanParam(name, value)
}

// Parser accumulates streamed chunks and reparses after each one.
type Parser struct {
	vocab Vocabulary
	raw   strings.Builder
}

// New returns a Parser for the given vocabulary.
func New(vocab Vocabulary) *Parser {
	return &Parser{vocab: vocab}
}

// Append adds a chunk and returns the segments parsed so far.
func (p *Parser) Append(chunk string) []Segment {
	p.raw.WriteString(chunk)
	return Parse(p.raw.String(), p.vocab, false)
}

// Finish returns the final, fully completed segment list.
func (p *Parser) Finish() []Segment {
	return Parse(p.raw.String(), p.vocab, true)
}

// Raw returns everything appended so far.
func (p *Parser) Raw() string {
	return p.raw.String()
}
