package permission

// Decision represents the outcome of a permission check.
type Decision int

const (
	Allow            Decision = iota // Automatically allowed
	Deny                             // Denied
	NeedConfirmation                 // Requires user confirmation
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "confirm"
	}
}

// Policy checks whether a tool invocation may run without asking.
type Policy interface {
	Check(toolName string, params map[string]string, readOnly bool) Decision
}

// AllowAllPolicy allows every invocation without confirmation.
type AllowAllPolicy struct{}

func (AllowAllPolicy) Check(string, map[string]string, bool) Decision {
	return Allow
}
