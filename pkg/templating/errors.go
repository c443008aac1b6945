package templating

import (
	"errors"
	"fmt"
)

var (
	// ErrUnterminated is the kind of a ParseError for a "{{" that is never
	// followed by "}}".
	ErrUnterminated = errors.New("unterminated tag")
	// ErrMissingClose is the kind of a ParseError for a conditional whose
	// closing tag does not appear anywhere after it.
	ErrMissingClose = errors.New("conditional is never closed")
	// ErrUnexpected is the kind of a ParseError for a tag the grammar does not
	// recognize, such as a stray closing tag.
	ErrUnexpected = errors.New("unrecognized tag")
	// ErrTemplateTooLarge is returned by the TemplateManager for sources over
	// the configured size limit.
	ErrTemplateTooLarge = errors.New("template exceeds size limit")
)

// ParseError describes why a template could not be parsed. Kind is one of
// ErrUnterminated, ErrMissingClose or ErrUnexpected, and can be tested with
// errors.Is.
type ParseError struct {
	Kind   error
	Offset int    // byte offset of the offending tag in the template
	Tag    string // the offending tag, truncated for long input
	Want   string // the closing tag that was expected, for ErrMissingClose
}

func (e *ParseError) Error() string {
	if e.Want != "" {
		return fmt.Sprintf("templating: %v at offset %d: %s (expected %s)", e.Kind, e.Offset, e.Tag, e.Want)
	}
	return fmt.Sprintf("templating: %v at offset %d: %s", e.Kind, e.Offset, e.Tag)
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}
