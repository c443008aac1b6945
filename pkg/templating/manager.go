package templating

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/CTAG07/Drosera/pkg/cloze"
	"github.com/CTAG07/Drosera/pkg/notes"
)

// Reserved field names. They are filled in by RenderCard and may be used by
// any template without being declared by the note type.
const (
	FieldFrontSide = "FrontSide"
	FieldTags      = "Tags"
	FieldDeck      = "Deck"
	FieldCard      = "Card"
)

var reservedFields = map[string]struct{}{
	FieldFrontSide: {},
	FieldTags:      {},
	FieldDeck:      {},
	FieldCard:      {},
}

// IsReservedField reports whether name is filled in by the renderer rather
// than by the note.
func IsReservedField(name string) bool {
	_, ok := reservedFields[name]
	return ok
}

// Card identifies one card generated from a note. Ord is the template ordinal
// for standard note types and the cloze ordinal for cloze note types.
type Card struct {
	Ord      int    `json:"ord"`
	Template string `json:"template"`
}

// RenderedCard is both sides of a card.
type RenderedCard struct {
	Card
	Question string `json:"question"`
	Answer   string `json:"answer"`
	CSS      string `json:"css,omitempty"`
}

// TemplateManager is the central controller for rendering stored cards.
// It caches compiled templates by source, keeps the note types of the
// backing store in memory and decides which cards a note produces.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger        *slog.Logger
	config        *TemplateConfig
	store         *notes.Store
	cache         map[string]*Template
	cacheOrder    []string
	noteTypes     map[string]notes.NoteType
	noteTypesByID map[int]notes.NoteType
	mu            sync.RWMutex
}

// NewTemplateManager creates, initializes, and returns a new TemplateManager.
// store may be nil, in which case only Compile, Validate and the card
// functions taking explicit note types are useful. A nil logger discards
// all output. It performs an initial Refresh to load all note types.
func NewTemplateManager(ctx context.Context, logger *slog.Logger, store *notes.Store, config *TemplateConfig) (*TemplateManager, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config == nil {
		c := DefaultConfig()
		config = &c
	}
	tm := &TemplateManager{
		logger:        logger,
		config:        config,
		store:         store,
		cache:         make(map[string]*Template),
		noteTypes:     make(map[string]notes.NoteType),
		noteTypesByID: make(map[int]notes.NoteType),
	}

	if err := tm.Refresh(ctx); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized")
	return tm, nil
}

// SetConfig applies a new configuration. The template cache is emptied so a
// smaller CacheSize or MaxTemplateBytes takes effect immediately.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = config
	tm.cache = make(map[string]*Template)
	tm.cacheOrder = nil
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// Refresh reloads every note type from the store. Note types that fail
// validation are still loaded, but a warning is logged for each.
func (tm *TemplateManager) Refresh(ctx context.Context) error {
	if tm.store == nil {
		return nil
	}

	tm.logger.Info("Loading note types...")
	types, err := tm.store.GetNoteTypes(ctx)
	if err != nil {
		tm.logger.Error("failed to load note types", "error", err)
		return err
	}

	byName := make(map[string]notes.NoteType, len(types))
	byID := make(map[int]notes.NoteType, len(types))
	for _, nt := range types {
		if err := tm.Validate(nt); err != nil {
			tm.logger.Warn("Note type failed validation", slog.String("note_type", nt.Name), "error", err)
		}
		byName[nt.Name] = nt
		byID[nt.ID] = nt
	}

	tm.mu.Lock()
	tm.noteTypes = byName
	tm.noteTypesByID = byID
	tm.mu.Unlock()

	tm.logger.Info("Loaded note types", "count", len(types))
	return nil
}

// Compile parses src, reusing a cached tree when the same source was compiled
// before. Sources over MaxTemplateBytes fail with ErrTemplateTooLarge.
func (tm *TemplateManager) Compile(src string) (*Template, error) {
	tm.mu.RLock()
	limit := tm.config.MaxTemplateBytes
	size := tm.config.CacheSize
	t, ok := tm.cache[src]
	tm.mu.RUnlock()
	if ok {
		return t, nil
	}

	if limit > 0 && len(src) > limit {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrTemplateTooLarge, len(src), limit)
	}

	t, err := Parse(src)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return t, nil
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if cached, ok := tm.cache[src]; ok {
		return cached, nil
	}
	for len(tm.cacheOrder) >= size {
		evict := tm.cacheOrder[0]
		tm.cacheOrder = tm.cacheOrder[1:]
		delete(tm.cache, evict)
	}
	tm.cache[src] = t
	tm.cacheOrder = append(tm.cacheOrder, src)
	return t, nil
}

// CachedTemplates returns the number of compiled templates currently cached.
func (tm *TemplateManager) CachedTemplates() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.cache)
}

// NoteType returns a loaded note type by name.
func (tm *TemplateManager) NoteType(name string) (notes.NoteType, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	nt, ok := tm.noteTypes[name]
	return nt, ok
}

// NoteTypeByID returns a loaded note type by id, falling back to the store
// for note types added since the last Refresh.
func (tm *TemplateManager) NoteTypeByID(ctx context.Context, id int) (notes.NoteType, error) {
	tm.mu.RLock()
	nt, ok := tm.noteTypesByID[id]
	tm.mu.RUnlock()
	if ok {
		return nt, nil
	}
	if tm.store == nil {
		return notes.NoteType{}, fmt.Errorf("note type %d: %w", id, notes.ErrNotFound)
	}
	return tm.store.GetNoteTypeByID(ctx, id)
}

// NoteTypeNames returns the names of every loaded note type, sorted.
func (tm *TemplateManager) NoteTypeNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	names := make([]string, 0, len(tm.noteTypes))
	for name := range tm.noteTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every template of nt parses and, depending on the
// configuration, only references declared fields and registered filters.
// Cloze note types must render at least one field through the cloze filter
// on the question side of their first template. All problems are reported
// together; each wraps notes.ErrInvalid or a *ParseError.
func (tm *TemplateManager) Validate(nt notes.NoteType) error {
	cfg := tm.GetConfig()
	var errs []error

	for i, ct := range nt.Templates {
		for _, side := range []struct {
			name string
			src  string
		}{{"question", ct.QFmt}, {"answer", ct.AFmt}} {
			t, err := tm.Compile(side.src)
			if err != nil {
				errs = append(errs, fmt.Errorf("template %q %s: %w", ct.Name, side.name, err))
				continue
			}
			if cfg.StrictFields {
				for _, f := range t.FieldNames() {
					if !IsReservedField(f) && !nt.HasField(f) {
						errs = append(errs, fmt.Errorf("%w: template %q %s references unknown field %q",
							notes.ErrInvalid, ct.Name, side.name, f))
					}
				}
			}
			if cfg.RejectUnknownFilters {
				for _, f := range t.Filters() {
					if !HasFilter(f) {
						errs = append(errs, fmt.Errorf("%w: template %q %s uses unknown filter %q",
							notes.ErrInvalid, ct.Name, side.name, f))
					}
				}
			}
			if i == 0 && side.name == "question" && nt.Kind == notes.KindCloze && len(t.ClozeFields()) == 0 {
				errs = append(errs, fmt.Errorf("%w: cloze note type %q has no cloze field on its question side",
					notes.ErrInvalid, nt.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// GenerateCards returns the cards note produces, ordered by ordinal.
//
// A standard note type produces a card for each template whose question
// renders to something other than whitespace and differs from the question
// rendered with no fields at all. A cloze note type produces one card per
// distinct cloze ordinal found in the fields its first template renders
// through the cloze filter, or card 1 when there are none.
func (tm *TemplateManager) GenerateCards(nt notes.NoteType, note notes.Note) ([]Card, error) {
	if len(nt.Templates) == 0 {
		return nil, fmt.Errorf("%w: note type %q has no card templates", notes.ErrInvalid, nt.Name)
	}

	if nt.Kind == notes.KindCloze {
		first := nt.Templates[0]
		q, err := tm.Compile(first.QFmt)
		if err != nil {
			return nil, fmt.Errorf("template %q question: %w", first.Name, err)
		}
		var ords []int
		for _, f := range q.ClozeFields() {
			for _, ord := range cloze.Ordinals(note.Fields[f]) {
				if !slices.Contains(ords, ord) {
					ords = append(ords, ord)
				}
			}
		}
		if len(ords) == 0 {
			ords = []int{1}
		}
		sort.Ints(ords)
		cards := make([]Card, len(ords))
		for i, ord := range ords {
			cards[i] = Card{Ord: ord, Template: first.Name}
		}
		return cards, nil
	}

	var cards []Card
	for _, ct := range nt.Templates {
		q, err := tm.Compile(ct.QFmt)
		if err != nil {
			return nil, fmt.Errorf("template %q question: %w", ct.Name, err)
		}
		rendered := q.Render(note.Fields)
		if strings.TrimSpace(rendered) == "" || rendered == q.Render(nil) {
			continue
		}
		cards = append(cards, Card{Ord: ct.Ord, Template: ct.Name})
	}
	return cards, nil
}

// RenderCard renders both sides of card ord of note. The answer side sees the
// rendered question as FrontSide, together with the note's tags, deck and the
// template name.
func (tm *TemplateManager) RenderCard(nt notes.NoteType, note notes.Note, ord int) (RenderedCard, error) {
	var (
		ct  notes.CardTemplate
		ctx *ClozeContext
	)
	if nt.Kind == notes.KindCloze {
		if ord < 1 {
			return RenderedCard{}, fmt.Errorf("%w: cloze card ordinal %d", notes.ErrInvalid, ord)
		}
		if len(nt.Templates) == 0 {
			return RenderedCard{}, fmt.Errorf("%w: note type %q has no card templates", notes.ErrInvalid, nt.Name)
		}
		ct = nt.Templates[0]
		ctx = &ClozeContext{Ordinal: ord, Question: true}
	} else {
		var ok bool
		if ct, ok = nt.Template(ord); !ok {
			return RenderedCard{}, fmt.Errorf("card %d of note type %q: %w", ord, nt.Name, notes.ErrNotFound)
		}
	}

	q, err := tm.Compile(ct.QFmt)
	if err != nil {
		return RenderedCard{}, fmt.Errorf("template %q question: %w", ct.Name, err)
	}
	a, err := tm.Compile(ct.AFmt)
	if err != nil {
		return RenderedCard{}, fmt.Errorf("template %q answer: %w", ct.Name, err)
	}

	fields := make(map[string]string, len(note.Fields)+len(reservedFields))
	for k, v := range note.Fields {
		fields[k] = v
	}
	fields[FieldTags] = note.TagString()
	fields[FieldDeck] = note.Deck
	fields[FieldCard] = ct.Name

	question, answer := renderSides(q, a, fields, ctx)

	tm.logger.Debug("Card rendered",
		slog.String("guid", note.GUID),
		slog.String("note_type", nt.Name),
		slog.Int("ord", ord),
	)
	return RenderedCard{
		Card:     Card{Ord: ord, Template: ct.Name},
		Question: question,
		Answer:   answer,
		CSS:      nt.CSS,
	}, nil
}

// RenderPair renders an ad hoc card from a front and a back template. With
// ordinal > 0 the cloze filter is active for that card, on the question side
// for the front and on the answer side for the back. fields is not modified.
func (tm *TemplateManager) RenderPair(front, back string, fields map[string]string, ordinal int) (question, answer string, err error) {
	q, err := tm.Compile(front)
	if err != nil {
		return "", "", fmt.Errorf("front: %w", err)
	}
	a, err := tm.Compile(back)
	if err != nil {
		return "", "", fmt.Errorf("back: %w", err)
	}

	copied := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		copied[k] = v
	}
	var ctx *ClozeContext
	if ordinal > 0 {
		ctx = &ClozeContext{Ordinal: ordinal, Question: true}
	}
	question, answer = renderSides(q, a, copied, ctx)
	return question, answer, nil
}

// renderSides renders the question, hands it to the answer as FrontSide and
// renders the answer with the cloze context switched to the answer side.
// fields is modified.
func renderSides(q, a *Template, fields map[string]string, ctx *ClozeContext) (string, string) {
	question := q.Execute(fields, ctx)
	fields[FieldFrontSide] = question
	if ctx != nil {
		ctx = &ClozeContext{Ordinal: ctx.Ordinal, Question: false}
	}
	return question, a.Execute(fields, ctx)
}
