// Package parser turns the raw text streamed by the model into an ordered
// list of content segments: at most one leading text segment followed by
// XML-style tool invocations.
package parser

// Segment is either a *TextSegment or a *ToolInvocation.
type Segment interface {
	IsPartial() bool
	finalize()
}

// TextSegment is the prose the model writes before its first tool call.
type TextSegment struct {
	Content string
	Partial bool
}

func (t *TextSegment) IsPartial() bool { return t.Partial }
func (t *TextSegment) finalize()       { t.Partial = false }

// ToolInvocation is one <tool_name>...</tool_name> block.
type ToolInvocation struct {
	Name    string
	Params  Params
	Partial bool
}

func (t *ToolInvocation) IsPartial() bool { return t.Partial }
func (t *ToolInvocation) finalize()       { t.Partial = false }

// Param is a single named parameter value.
type Param struct {
	Name  string
	Value string
}

// Params keeps parameters in the order the model wrote them.
type Params []Param

// Get returns the value of name and whether it was present.
func (p Params) Get(name string) (string, bool) {
	for _, kv := range p {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}

// Value returns the value of name, or "" when absent.
func (p Params) Value(name string) string {
	v, _ := p.Get(name)
	return v
}

// Map copies the params into a plain map.
func (p Params) Map() map[string]string {
	m := make(map[string]string, len(p))
	for _, kv := range p {
		m[kv.Name] = kv.Value
	}
	return m
}

func (p *Params) set(name, value string) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Param{Name: name, Value: value})
}

// Finalize marks every segment complete. It is called once the stream is
// exhausted so that a dangling tool or parameter can still be presented.
func Finalize(segs []Segment) []Segment {
	for _, s := range segs {
		s.finalize()
	}
	return segs
}
