package cloze

import (
	"reflect"
	"testing"
)

const capital = "{{c1::Paris}} is the capital of {{c2::France}}"

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		ordinal  int
		question bool
		want     string
	}{
		{"QuestionFirstCard", capital, 1, true, `<span class="cloze">[...]</span> is the capital of France`},
		{"QuestionSecondCard", capital, 2, true, `Paris is the capital of <span class="cloze">[...]</span>`},
		{"Answer", capital, 1, false, `<span class="cloze">Paris</span> is the capital of France`},
		{"AnswerSecondCard", capital, 2, false, `Paris is the capital of <span class="cloze">France</span>`},
		{"Hint", "{{c1::Paris::capital city}} is in France", 1, true, `<span class="cloze">[capital city]</span> is in France`},
		{"HintIgnoredOnAnswer", "{{c1::Paris::capital city}} is in France", 1, false, `<span class="cloze">Paris</span> is in France`},
		{"InactiveHint", "{{c1::Paris::capital city}} is in France", 2, true, "Paris is in France"},
		{"EmptyHint", "{{c1::Paris::}}", 1, true, `<span class="cloze">[]</span>`},
		{"NoMarkers", "Just plain text", 1, true, "Just plain text"},
		{"SharedOrdinal", "{{c1::word1}} and {{c1::word2}}", 1, true, `<span class="cloze">[...]</span> and <span class="cloze">[...]</span>`},
		{"UnknownOrdinalLeavesTextVisible", capital, 5, true, "Paris is the capital of France"},
		{"MultiDigitOrdinal", "{{c12::x}}", 12, true, `<span class="cloze">[...]</span>`},
		{"NonASCIIDigitsNeverMatch", "{{c١::x}}", 1, true, "x"},
		{"UnterminatedMarkerUntouched", "{{c1::open", 1, true, "{{c1::open"},
		{"HintContainsSeparator", "{{c1::a::b::c}}", 1, true, `<span class="cloze">[b::c]</span>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.text, tt.ordinal, tt.question); got != tt.want {
				t.Errorf("Render(%q, %d, %v) = %q, want %q", tt.text, tt.ordinal, tt.question, got, tt.want)
			}
		})
	}
}

func TestOverflowingOrdinalIsZero(t *testing.T) {
	text := "{{c99999999999999999999999::x}}"
	markers := Markers(text)
	if len(markers) != 1 || markers[0].Ordinal != 0 {
		t.Fatalf("expected one marker with ordinal 0, got %+v", markers)
	}
	if got := Render(text, 0, true); got != `<span class="cloze">[...]</span>` {
		t.Errorf("ordinal 0 should still compare equal, got %q", got)
	}
	if got := CountOrdinals(text); got != 0 {
		t.Errorf("CountOrdinals() = %d, want 0", got)
	}
}

func TestOrdinalRange(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"largest 32-bit ordinal", "{{c4294967295::x}}", 4294967295},
		{"one past 32 bits", "{{c4294967296::x}}", 0},
		{"leading zeros", "{{c0007::x}}", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			markers := Markers(tt.text)
			if len(markers) != 1 || markers[0].Ordinal != tt.want {
				t.Fatalf("Markers() = %+v, want one marker with ordinal %d", markers, tt.want)
			}
			if got := CountOrdinals(tt.text); got != tt.want {
				t.Errorf("CountOrdinals() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCountOrdinals(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"{{c1::a}} {{c2::b}} {{c3::c}} {{c1::d}}", 3},
		{"{{c1::a}} {{c3::c}}", 3},
		{"no clozes here", 0},
		{"", 0},
		{"{{c2::only two}}", 2},
	}
	for _, tt := range tests {
		if got := CountOrdinals(tt.text); got != tt.want {
			t.Errorf("CountOrdinals(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestOrdinals(t *testing.T) {
	got := Ordinals("{{c3::c}} {{c1::a}} {{c3::again}} {{c0::zero}}")
	if want := []int{1, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("Ordinals() = %v, want %v", got, want)
	}
	if got := Ordinals("plain"); got != nil {
		t.Errorf("Ordinals() on plain text = %v, want nil", got)
	}
}

func TestMarkers(t *testing.T) {
	got := Markers("{{c1::Paris::city}} and {{c2::France}}")
	want := []Marker{
		{Ordinal: 1, Text: "Paris", Hint: "city", HasHint: true},
		{Ordinal: 2, Text: "France"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Markers() = %+v, want %+v", got, want)
	}
}
