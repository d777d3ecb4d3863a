package reverie

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEventWriterHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, err := NewEventWriter(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected no-cache, got %q", cc)
	}
}

func TestEventWriterWireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	ew, err := NewEventWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ew.Send(TokenEvent("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ew.Send(CloseEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := rec.Body.String()
	want := "event: token\ndata: {\"text\":\"hello\"}\n\nevent: close\ndata: {}\n\n"
	if body != want {
		t.Errorf("wire format mismatch:\ngot:  %q\nwant: %q", body, want)
	}
}

func TestEventConstructors(t *testing.T) {
	cases := []struct {
		event Event
		name  string
	}{
		{StatusEvent("thinking"), EventStatus},
		{TokenEvent("word"), EventToken},
		{EmoteEvent("smile"), EventEmote},
		{ProactiveEvent("an idea"), EventProactive},
		{CloseEvent(), EventClose},
	}
	for _, tc := range cases {
		if tc.event.Name != tc.name {
			t.Errorf("expected event name %q, got %q", tc.name, tc.event.Name)
		}
	}
}

func TestProactiveEventPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	ew, err := NewEventWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ew.Send(ProactiveEvent("an idea")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "event: proactive\ndata: {\"message\":\"an idea\"}\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("proactive wire format mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestErrorEventCarriesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	ew, err := NewEventWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ew.Send(ErrorEvent(ErrNoProvider)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "event: error") {
		t.Error("expected error event on the wire")
	}
	if !strings.Contains(rec.Body.String(), "no provider configured") {
		t.Error("expected error message in payload")
	}
}
