/*
Package notes provides a SQLite-backed collection of flashcard note types and
notes.

A note type owns an ordered list of field names and one or more card
templates (question and answer formats written in the templating
mini-language). A note stores the field values for one note type. Cards are
not stored; they are derived from a note and its note type when rendered.

The package only persists and retrieves data. Rendering and card generation
live in the templating package.
*/
package notes
