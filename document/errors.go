package document

import (
	"fmt"
	"strings"
)

// UnknownFieldError reports an access to a logical field the class does not
// declare, with close-name suggestions when any exist.
type UnknownFieldError struct {
	Class       string
	Field       string
	Suggestions []string
}

func (e *UnknownFieldError) Error() string {
	msg := fmt.Sprintf("class %s has no field %q", e.Class, e.Field)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}

	return msg
}
