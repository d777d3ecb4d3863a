package reverie

import (
	"reflect"
	"testing"
)

func collectFragments(t *testing.T, deltas []string) []Fragment {
	t.Helper()
	var out []Fragment
	splitter := newEmoteSplitter(func(f Fragment) error {
		out = append(out, f)
		return nil
	})
	for _, d := range deltas {
		if err := splitter.Write(d); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := splitter.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func joinTokens(frags []Fragment) string {
	var s string
	for _, f := range frags {
		if f.Kind == FragmentToken {
			s += f.Text
		}
	}
	return s
}

func TestParseFragmentsPlainText(t *testing.T) {
	frags := ParseFragments("just plain text")
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(frags))
	}
	if frags[0].Kind != FragmentToken || frags[0].Text != "just plain text" {
		t.Errorf("unexpected fragment: %+v", frags[0])
	}
}

func TestParseFragmentsEmbeddedEmote(t *testing.T) {
	frags := ParseFragments("hello [emote:smile] there")

	var emotes []string
	for _, f := range frags {
		if f.Kind == FragmentEmote {
			emotes = append(emotes, f.Name)
		}
	}
	if !reflect.DeepEqual(emotes, []string{"smile"}) {
		t.Fatalf("expected one 'smile' emote, got %v", emotes)
	}
	if got := joinTokens(frags); got != "hello  there" {
		t.Errorf("unexpected surrounding text: %q", got)
	}
}

func TestEmoteSplitterMarkerAcrossDeltas(t *testing.T) {
	frags := collectFragments(t, []string{"so [em", "ote:wa", "ve] hi"})

	var emotes []string
	for _, f := range frags {
		if f.Kind == FragmentEmote {
			emotes = append(emotes, f.Name)
		}
	}
	if !reflect.DeepEqual(emotes, []string{"wave"}) {
		t.Fatalf("expected 'wave' emote across deltas, got %v", emotes)
	}
	if got := joinTokens(frags); got != "so  hi" {
		t.Errorf("unexpected surrounding text: %q", got)
	}
}

func TestEmoteSplitterPlainBracket(t *testing.T) {
	frags := collectFragments(t, []string{"array[3] = x"})
	if got := joinTokens(frags); got != "array[3] = x" {
		t.Errorf("plain bracket text mangled: %q", got)
	}
	for _, f := range frags {
		if f.Kind == FragmentEmote {
			t.Errorf("unexpected emote: %+v", f)
		}
	}
}

func TestEmoteSplitterUnterminatedMarker(t *testing.T) {
	frags := collectFragments(t, []string{"trailing [emote:half"})
	if got := joinTokens(frags); got != "trailing [emote:half" {
		t.Errorf("unterminated marker lost text: %q", got)
	}
}

func TestEmoteSplitterEmptyName(t *testing.T) {
	frags := collectFragments(t, []string{"odd [emote:] text"})
	for _, f := range frags {
		if f.Kind == FragmentEmote {
			t.Errorf("empty-name marker should stay text, got %+v", f)
		}
	}
	if got := joinTokens(frags); got != "odd [emote:] text" {
		t.Errorf("empty-name marker mangled text: %q", got)
	}
}

func TestEmoteSplitterMultipleEmotes(t *testing.T) {
	frags := collectFragments(t, []string{"[emote:a]", "mid", "[emote:b]"})

	var sequence []FragmentKind
	for _, f := range frags {
		sequence = append(sequence, f.Kind)
	}
	want := []FragmentKind{FragmentEmote, FragmentToken, FragmentEmote}
	if !reflect.DeepEqual(sequence, want) {
		t.Fatalf("expected %v, got %v", want, sequence)
	}
	if frags[0].Name != "a" || frags[2].Name != "b" {
		t.Errorf("unexpected emote names: %q, %q", frags[0].Name, frags[2].Name)
	}
}
