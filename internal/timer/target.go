package timer

import "strings"

// Target identifies the callback of an auto-created calendar timer so it can
// be re-resolved after a restart.
type Target struct {
	DeclaringType string
	Method        string
	Params        []string
}

func (t Target) IsZero() bool {
	return t.DeclaringType == "" && t.Method == "" && len(t.Params) == 0
}

// String renders "Type.Method(p1,p2)".
func (t Target) String() string {
	var b strings.Builder
	if t.DeclaringType != "" {
		b.WriteString(t.DeclaringType)
		b.WriteByte('.')
	}
	b.WriteString(t.Method)
	b.WriteByte('(')
	b.WriteString(strings.Join(t.Params, ","))
	b.WriteByte(')')
	return b.String()
}

func (t Target) clone() Target {
	t.Params = append([]string(nil), t.Params...)
	return t
}
