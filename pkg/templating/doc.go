/*
Package templating parses and renders flashcard templates.

A template is plain text with embedded tags:

	{{Field}}                 substitutes the value of Field
	{{text:hint:Field}}       applies filters right to left: text(hint(Field))
	{{#Field}}...{{/Field}}   renders the body when Field is non-empty
	{{^Field}}...{{/Field}}   renders the body when Field is empty

A conditional body ends at the first {{/Field}} after its opening tag, so
blocks on the same field do not nest: {{#A}}x{{#A}}y{{/A}}z renders "xz".
Inside a body, parsing stops at the first tag no rule accepts and the rest
of the body is dropped. Only top-level input that cannot be parsed is an
error.

Rendering never fails: missing fields are empty and unknown filters leave
their input unchanged. Only malformed templates produce an error, always a
*ParseError.

The cloze filter is handled by the renderer itself. Given a ClozeContext it
hides or reveals the {{cN::text::hint}} deletions of the active card; without
one it leaves the field unchanged.

TemplateManager builds on these primitives to render the cards of notes held
in a notes.Store, caching compiled templates and deciding which cards a note
produces.
*/
package templating
