package templating

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/CTAG07/Drosera/pkg/notes"
	_ "github.com/mattn/go-sqlite3"
)

func basicNoteType() notes.NoteType {
	return notes.NoteType{
		Name:   "Basic",
		Kind:   notes.KindStandard,
		Fields: []string{"Front", "Back"},
		Templates: []notes.CardTemplate{
			{Name: "Forward", QFmt: "{{Front}}", AFmt: "{{FrontSide}}<hr id=answer>{{Back}}"},
			{Name: "Reverse", QFmt: "{{#Back}}{{Back}}{{/Back}}", AFmt: "{{FrontSide}}<hr id=answer>{{Front}}"},
		},
	}
}

func clozeNoteType() notes.NoteType {
	return notes.NoteType{
		Name:   "Cloze",
		Kind:   notes.KindCloze,
		CSS:    ".cloze { color: blue; }",
		Fields: []string{"Text", "Extra"},
		Templates: []notes.CardTemplate{
			{Name: "Cloze", QFmt: "{{cloze:Text}}", AFmt: "{{cloze:Text}}{{#Extra}}<br>{{Extra}}{{/Extra}}|{{Tags}}|{{Card}}"},
		},
	}
}

// setupTestManager creates a store with the basic and cloze note types and a
// TemplateManager on top of it.
func setupTestManager(tb testing.TB) (context.Context, *notes.Store, *TemplateManager) {
	tb.Helper()

	dbFile := filepath.Join(tb.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })

	if err = notes.SetupSchema(db); err != nil {
		tb.Fatalf("failed to set up notes schema: %v", err)
	}
	store, err := notes.NewStore(db)
	if err != nil {
		tb.Fatalf("failed to create store: %v", err)
	}
	tb.Cleanup(store.Close)

	ctx := context.Background()
	for _, nt := range []notes.NoteType{basicNoteType(), clozeNoteType()} {
		if _, err = store.InsertNoteType(ctx, nt); err != nil {
			tb.Fatalf("failed to insert note type %q: %v", nt.Name, err)
		}
	}

	tm, err := NewTemplateManager(ctx, nil, store, nil)
	if err != nil {
		tb.Fatalf("NewTemplateManager() error = %v", err)
	}
	return ctx, store, tm
}

func TestManagerLoadsNoteTypes(t *testing.T) {
	ctx, store, tm := setupTestManager(t)

	if got, want := tm.NoteTypeNames(), []string{"Basic", "Cloze"}; !reflect.DeepEqual(got, want) {
		t.Errorf("NoteTypeNames() = %v, want %v", got, want)
	}
	basic, ok := tm.NoteType("Basic")
	if !ok || len(basic.Templates) != 2 {
		t.Fatalf("NoteType(Basic) = %+v, %v", basic, ok)
	}

	added, err := store.InsertNoteType(ctx, notes.NoteType{
		Name:      "Later",
		Kind:      notes.KindStandard,
		Fields:    []string{"Q"},
		Templates: []notes.CardTemplate{{QFmt: "{{Q}}", AFmt: "{{Q}}"}},
	})
	if err != nil {
		t.Fatalf("InsertNoteType() error = %v", err)
	}
	if _, ok = tm.NoteType("Later"); ok {
		t.Error("note type should not be cached before Refresh")
	}
	if nt, err := tm.NoteTypeByID(ctx, added.ID); err != nil || nt.Name != "Later" {
		t.Errorf("NoteTypeByID() = %+v, %v", nt, err)
	}
	if _, err = tm.NoteTypeByID(ctx, added.ID+10); !errors.Is(err, notes.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err = tm.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, ok = tm.NoteType("Later"); !ok {
		t.Error("note type missing after Refresh")
	}
}

func TestManagerCompileCache(t *testing.T) {
	_, _, tm := setupTestManager(t)
	tm.SetConfig(&TemplateConfig{CacheSize: 2})

	a1, err := tm.Compile("{{A}}")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	a2, _ := tm.Compile("{{A}}")
	if a1 != a2 {
		t.Error("expected the cached template to be reused")
	}

	_, _ = tm.Compile("{{B}}")
	_, _ = tm.Compile("{{C}}")
	if n := tm.CachedTemplates(); n != 2 {
		t.Errorf("cache holds %d templates, want 2", n)
	}
	a3, _ := tm.Compile("{{A}}")
	if a3 == a1 {
		t.Error("expected the oldest template to have been evicted")
	}

	if _, err = tm.Compile("{{A"); !errors.Is(err, ErrUnterminated) {
		t.Errorf("expected ErrUnterminated, got %v", err)
	}
}

func TestManagerCompileSizeLimit(t *testing.T) {
	_, _, tm := setupTestManager(t)
	tm.SetConfig(&TemplateConfig{MaxTemplateBytes: 4})

	if _, err := tm.Compile("{{Front}}"); !errors.Is(err, ErrTemplateTooLarge) {
		t.Errorf("expected ErrTemplateTooLarge, got %v", err)
	}
	if _, err := tm.Compile("ok"); err != nil {
		t.Errorf("small template rejected: %v", err)
	}
	if got := tm.GetConfig().MaxTemplateBytes; got != 4 {
		t.Errorf("GetConfig().MaxTemplateBytes = %d", got)
	}
}

func TestManagerValidate(t *testing.T) {
	_, _, tm := setupTestManager(t)

	if err := tm.Validate(basicNoteType()); err != nil {
		t.Errorf("basic note type should be valid: %v", err)
	}
	if err := tm.Validate(clozeNoteType()); err != nil {
		t.Errorf("cloze note type should be valid: %v", err)
	}

	unknownField := basicNoteType()
	unknownField.Templates[0].QFmt = "{{Front}}{{Extra}}"
	if err := tm.Validate(unknownField); !errors.Is(err, notes.ErrInvalid) {
		t.Errorf("expected ErrInvalid for an unknown field, got %v", err)
	}

	broken := basicNoteType()
	broken.Templates[1].AFmt = "{{#Front}}"
	err := tm.Validate(broken)
	var pe *ParseError
	if !errors.As(err, &pe) || !errors.Is(err, ErrMissingClose) {
		t.Errorf("expected a ParseError, got %v", err)
	}

	noCloze := clozeNoteType()
	noCloze.Templates[0].QFmt = "{{Text}}"
	if err = tm.Validate(noCloze); !errors.Is(err, notes.ErrInvalid) {
		t.Errorf("expected ErrInvalid for a cloze type without a cloze field, got %v", err)
	}

	unknownFilter := basicNoteType()
	unknownFilter.Templates[0].QFmt = "{{upper:Front}}"
	if err = tm.Validate(unknownFilter); err != nil {
		t.Errorf("unknown filters are allowed by default: %v", err)
	}
	tm.SetConfig(&TemplateConfig{StrictFields: true, RejectUnknownFilters: true})
	if err = tm.Validate(unknownFilter); !errors.Is(err, notes.ErrInvalid) {
		t.Errorf("expected ErrInvalid for an unknown filter, got %v", err)
	}

	tm.SetConfig(&TemplateConfig{StrictFields: false})
	if err = tm.Validate(unknownField); err != nil {
		t.Errorf("unknown fields are allowed when not strict: %v", err)
	}
}

func TestManagerGenerateCardsStandard(t *testing.T) {
	_, _, tm := setupTestManager(t)
	nt, _ := tm.NoteType("Basic")

	tests := []struct {
		name   string
		fields map[string]string
		want   []Card
	}{
		{"front only", map[string]string{"Front": "犬"}, []Card{{1, "Forward"}}},
		{"both sides", map[string]string{"Front": "犬", "Back": "dog"}, []Card{{1, "Forward"}, {2, "Reverse"}}},
		{"whitespace only", map[string]string{"Front": "  "}, nil},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tm.GenerateCards(nt, notes.Note{Fields: tt.fields})
			if err != nil {
				t.Fatalf("GenerateCards() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	static := basicNoteType()
	static.Templates[0].QFmt = "Q: {{Front}}"
	got, err := tm.GenerateCards(static, notes.Note{Fields: map[string]string{"Back": "dog"}})
	if err != nil {
		t.Fatalf("GenerateCards() error = %v", err)
	}
	if !reflect.DeepEqual(got, []Card{{2, "Reverse"}}) {
		t.Errorf("a question with only static text must not produce a card, got %v", got)
	}
}

func TestManagerGenerateCardsCloze(t *testing.T) {
	_, _, tm := setupTestManager(t)
	nt, _ := tm.NoteType("Cloze")

	tests := []struct {
		text string
		want []int
	}{
		{"{{c1::a}} {{c3::b}} {{c1::c}}", []int{1, 3}},
		{"{{c2::only}}", []int{2}},
		{"no deletions", []int{1}},
		{"{{c0::zero}}", []int{1}},
	}
	for _, tt := range tests {
		got, err := tm.GenerateCards(nt, notes.Note{Fields: map[string]string{"Text": tt.text}})
		if err != nil {
			t.Fatalf("GenerateCards(%q) error = %v", tt.text, err)
		}
		var ords []int
		for _, c := range got {
			ords = append(ords, c.Ord)
			if c.Template != "Cloze" {
				t.Errorf("card uses template %q", c.Template)
			}
		}
		if !reflect.DeepEqual(ords, tt.want) {
			t.Errorf("GenerateCards(%q) ordinals = %v, want %v", tt.text, ords, tt.want)
		}
	}
}

func TestManagerRenderCardStandard(t *testing.T) {
	_, _, tm := setupTestManager(t)
	nt, _ := tm.NoteType("Basic")
	note := notes.Note{Fields: map[string]string{"Front": "犬", "Back": "dog"}}

	card, err := tm.RenderCard(nt, note, 2)
	if err != nil {
		t.Fatalf("RenderCard() error = %v", err)
	}
	if card.Question != "dog" {
		t.Errorf("question = %q", card.Question)
	}
	if card.Answer != "dog<hr id=answer>犬" {
		t.Errorf("answer = %q", card.Answer)
	}
	if card.Ord != 2 || card.Template != "Reverse" {
		t.Errorf("unexpected card %+v", card.Card)
	}

	if _, err = tm.RenderCard(nt, note, 3); !errors.Is(err, notes.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing template, got %v", err)
	}
	if _, ok := note.Fields[FieldFrontSide]; ok {
		t.Error("RenderCard modified the note's fields")
	}
}

func TestManagerRenderCardCloze(t *testing.T) {
	_, _, tm := setupTestManager(t)
	nt, _ := tm.NoteType("Cloze")
	note := notes.Note{
		Fields: map[string]string{"Text": "{{c1::Canberra}} is the capital of {{c2::Australia::country}}", "Extra": "since 1913"},
		Tags:   []string{"geo", "capitals"},
	}

	card, err := tm.RenderCard(nt, note, 2)
	if err != nil {
		t.Fatalf("RenderCard() error = %v", err)
	}
	wantQ := `Canberra is the capital of <span class="cloze">[country]</span>`
	if card.Question != wantQ {
		t.Errorf("question = %q, want %q", card.Question, wantQ)
	}
	wantA := `Canberra is the capital of <span class="cloze">Australia</span><br>since 1913|geo capitals|Cloze`
	if card.Answer != wantA {
		t.Errorf("answer = %q, want %q", card.Answer, wantA)
	}
	if card.CSS != nt.CSS {
		t.Errorf("css = %q", card.CSS)
	}

	if _, err = tm.RenderCard(nt, note, 0); !errors.Is(err, notes.ErrInvalid) {
		t.Errorf("expected ErrInvalid for ordinal 0, got %v", err)
	}
}

func TestManagerRenderPair(t *testing.T) {
	_, _, tm := setupTestManager(t)

	tests := []struct {
		name       string
		front      string
		back       string
		fields     map[string]string
		ordinal    int
		wantQ      string
		wantA      string
		wantErrMsg string
	}{
		{
			name:   "plain pair hands the front to the back",
			front:  "{{Front}}",
			back:   "{{FrontSide}}<hr id=answer>{{Back}}",
			fields: map[string]string{"Front": "Q", "Back": "A"},
			wantQ:  "Q",
			wantA:  "Q<hr id=answer>A",
		},
		{
			name:    "cloze ordinal switches sides",
			front:   "{{cloze:Text}}",
			back:    "{{cloze:Text}}|{{FrontSide}}",
			fields:  map[string]string{"Text": "{{c1::Paris}} and {{c2::Rome}}"},
			ordinal: 2,
			wantQ:   `Paris and <span class="cloze">[...]</span>`,
			wantA:   `Paris and <span class="cloze">Rome</span>|Paris and <span class="cloze">[...]</span>`,
		},
		{
			name:       "broken back",
			front:      "{{Front}}",
			back:       "{{#Front}}",
			fields:     map[string]string{"Front": "Q"},
			wantErrMsg: "back: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, a, err := tm.RenderPair(tt.front, tt.back, tt.fields, tt.ordinal)
			if tt.wantErrMsg != "" {
				if err == nil || !strings.HasPrefix(err.Error(), tt.wantErrMsg) {
					t.Fatalf("RenderPair() error = %v, want prefix %q", err, tt.wantErrMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("RenderPair() error = %v", err)
			}
			if q != tt.wantQ {
				t.Errorf("question = %q, want %q", q, tt.wantQ)
			}
			if a != tt.wantA {
				t.Errorf("answer = %q, want %q", a, tt.wantA)
			}
			if _, ok := tt.fields[FieldFrontSide]; ok {
				t.Error("RenderPair modified the caller's fields")
			}
		})
	}
}

func TestManagerConcurrentUse(t *testing.T) {
	ctx, _, tm := setupTestManager(t)
	nt, _ := tm.NoteType("Cloze")
	note := notes.Note{Fields: map[string]string{"Text": "{{c1::a}} {{c2::b}}"}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				_ = tm.Refresh(ctx)
			}
			if _, err := tm.RenderCard(nt, note, i%2+1); err != nil {
				t.Errorf("RenderCard() error = %v", err)
			}
		}(i)
	}
	wg.Wait()
}

func BenchmarkManagerRenderCard(b *testing.B) {
	_, _, tm := setupTestManager(b)
	nt, _ := tm.NoteType("Cloze")
	note := notes.Note{Fields: map[string]string{"Text": "{{c1::Canberra}} is the capital of {{c2::Australia}}", "Extra": "x"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tm.RenderCard(nt, note, 1); err != nil {
			b.Fatal(err)
		}
	}
}
