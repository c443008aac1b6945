/*
Package cloze implements cloze deletions for flashcard fields.

A cloze marker hides part of a field's text on the question side of a card
and reveals it on the answer side. Markers are written inline in field
values as {{c1::text}} or {{c1::text::hint}}, where the number is the
ordinal of the card the deletion belongs to. Several markers may share an
ordinal, in which case they are hidden and revealed together.

Markers live inside field values rather than template structure, so they
are found again on every call; nothing is cached between renders.
*/
package cloze
