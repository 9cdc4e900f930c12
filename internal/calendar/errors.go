package calendar

import (
	"errors"
	"fmt"
)

// ErrInvalidExpression is returned for malformed or out-of-range field text,
// unknown time zones and inverted bounds.
var ErrInvalidExpression = errors.New("calendar: invalid expression")

func invalidf(field, text, format string, args ...any) error {
	return fmt.Errorf("%w: %s %q: %s", ErrInvalidExpression, field, text, fmt.Sprintf(format, args...))
}
