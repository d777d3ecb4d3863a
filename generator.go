package reverie

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/zyn"
)

// FragmentKind discriminates stream fragment types. Consumers must keep
// token and emote fragments distinct; emotes are never concatenated
// into surrounding prose.
type FragmentKind string

// Fragment kinds.
const (
	FragmentToken FragmentKind = "token"
	FragmentEmote FragmentKind = "emote"
)

// Fragment is one incremental unit of a streamed response: either a
// text token or an expressive emote marker.
type Fragment struct {
	Kind FragmentKind
	Text string // token text, empty for emotes
	Name string // emote name, empty for tokens
}

// generatorReply is the batch-mode structured output.
type generatorReply struct {
	ResponseText string `json:"response_text"`
}

// Validate implements zyn.Validator.
func (r generatorReply) Validate() error {
	if r.ResponseText == "" {
		return fmt.Errorf("response_text required")
	}
	return nil
}

const generatorSystemPrompt = "You turn an analytical blueprint into a warm, direct " +
	"reply to the user. Wrap any expressive gesture as [emote:name] on its own; never " +
	"mention the blueprint."

const generatorRole = "final user-facing reply synthesized from the analytical blueprint"

// Generator converts a finalized analysis into user-facing text, in
// batch or streaming mode. No retry logic lives here; a failed call
// propagates as a pipeline-level failure.
type Generator struct {
	provider Provider
}

// NewGenerator creates a generator. Streaming requires the resolved
// provider to implement StreamProvider.
func NewGenerator(provider Provider) *Generator {
	return &Generator{provider: provider}
}

// Generate returns one complete response string. Embedded emote markers
// are preserved in the text; ParseFragments splits them out.
func (g *Generator) Generate(ctx context.Context, session *zyn.Session, message string, analysis *Analysis) (string, error) {
	start := time.Now()
	capitan.Emit(ctx, StageStarted, FieldStage.Field("generator"))

	result, err := Invoke[generatorReply](ctx, session, generatorRole, g.prompt(message, analysis), DefaultGenerationTemperature, g.provider)
	if err != nil {
		capitan.Error(ctx, StageFailed,
			FieldStage.Field("generator"),
			FieldDuration.Field(time.Since(start)),
			FieldError.Field(err),
		)
		return "", fmt.Errorf("generator: %w", err)
	}

	text := result.Value.ResponseText
	if result.Fallback {
		text = result.Raw
	}

	capitan.Emit(ctx, StageCompleted,
		FieldStage.Field("generator"),
		FieldDuration.Field(time.Since(start)),
	)
	return text, nil
}

// Stream produces the response as an ordered, finite, non-restartable
// fragment sequence. The full text is returned for persistence once the
// stream ends. Cancel ctx to stop backend consumption on consumer
// disconnect.
func (g *Generator) Stream(ctx context.Context, message string, analysis *Analysis, fn func(Fragment) error) (string, error) {
	start := time.Now()
	capitan.Emit(ctx, StageStarted, FieldStage.Field("generator"))

	provider, err := resolveProvider(ctx, g.provider)
	if err != nil {
		return "", fmt.Errorf("generator: %w", err)
	}
	sp, ok := provider.(StreamProvider)
	if !ok {
		return "", fmt.Errorf("generator: provider %q does not support streaming", provider.Name())
	}

	messages := []zyn.Message{
		{Role: "system", Content: generatorSystemPrompt},
		{Role: "user", Content: g.prompt(message, analysis)},
	}

	var full strings.Builder
	splitter := newEmoteSplitter(func(f Fragment) error {
		return fn(f)
	})

	streamErr := sp.Stream(ctx, messages, DefaultGenerationTemperature, func(delta string) error {
		full.WriteString(delta)
		return splitter.Write(delta)
	})
	if streamErr == nil {
		streamErr = splitter.Flush()
	}
	if streamErr != nil {
		capitan.Error(ctx, StageFailed,
			FieldStage.Field("generator"),
			FieldDuration.Field(time.Since(start)),
			FieldError.Field(streamErr),
		)
		return full.String(), fmt.Errorf("generator: %w", streamErr)
	}

	capitan.Emit(ctx, StageCompleted,
		FieldStage.Field("generator"),
		FieldDuration.Field(time.Since(start)),
	)
	return full.String(), nil
}

func (g *Generator) prompt(message string, analysis *Analysis) string {
	var sb strings.Builder
	sb.WriteString("Analytical blueprint:\n")
	sb.WriteString(strings.Join(analysis.Reasoning, "\n"))
	if len(analysis.Facts) > 0 {
		sb.WriteString("\nEstablished facts:\n")
		sb.WriteString(strings.Join(analysis.Facts, "\n"))
	}
	if analysis.LowConfidence() {
		sb.WriteString("\nNote: the analysis is low-confidence; hedge accordingly.")
	}
	sb.WriteString("\nCurrent time: ")
	sb.WriteString(time.Now().UTC().Format(time.RFC3339))
	sb.WriteString("\n\nOriginal user message: ")
	sb.WriteString(message)
	return sb.String()
}

// ParseFragments splits a complete response into token and emote
// fragments. Used by batch-mode consumers that still need marker
// boundaries preserved.
func ParseFragments(text string) []Fragment {
	var out []Fragment
	splitter := newEmoteSplitter(func(f Fragment) error {
		out = append(out, f)
		return nil
	})
	_ = splitter.Write(text)
	_ = splitter.Flush()
	return out
}

// maxMarkerLen bounds how long a pending "[emote:" candidate may grow
// before it is treated as plain text.
const maxMarkerLen = 48

const markerPrefix = "[emote:"

// emoteSplitter converts a text delta stream into fragments, keeping
// [emote:name] markers intact even when they arrive split across
// deltas.
type emoteSplitter struct {
	emit    func(Fragment) error
	pending string
}

func newEmoteSplitter(emit func(Fragment) error) *emoteSplitter {
	return &emoteSplitter{emit: emit}
}

// Write consumes one delta and emits any fragments it completes.
func (s *emoteSplitter) Write(delta string) error {
	s.pending += delta

	for {
		open := strings.IndexByte(s.pending, '[')
		if open < 0 {
			if s.pending != "" {
				if err := s.emit(Fragment{Kind: FragmentToken, Text: s.pending}); err != nil {
					return err
				}
				s.pending = ""
			}
			return nil
		}

		// Flush text ahead of the bracket.
		if open > 0 {
			if err := s.emit(Fragment{Kind: FragmentToken, Text: s.pending[:open]}); err != nil {
				return err
			}
			s.pending = s.pending[open:]
		}

		rest := s.pending
		if !strings.HasPrefix(markerPrefix, prefixOf(rest, markerPrefix)) {
			// Not an emote marker; the bracket is plain text.
			if err := s.emit(Fragment{Kind: FragmentToken, Text: rest[:1]}); err != nil {
				return err
			}
			s.pending = rest[1:]
			continue
		}

		if len(rest) < len(markerPrefix) {
			// Possible marker still arriving.
			return nil
		}
		if !strings.HasPrefix(rest, markerPrefix) {
			if err := s.emit(Fragment{Kind: FragmentToken, Text: rest[:1]}); err != nil {
				return err
			}
			s.pending = rest[1:]
			continue
		}

		end := strings.IndexByte(rest, ']')
		if end < 0 {
			if len(rest) > maxMarkerLen {
				// Unterminated; give up on it as a marker.
				if err := s.emit(Fragment{Kind: FragmentToken, Text: rest}); err != nil {
					return err
				}
				s.pending = ""
			}
			return nil
		}

		name := rest[len(markerPrefix):end]
		if name == "" {
			if err := s.emit(Fragment{Kind: FragmentToken, Text: rest[:end+1]}); err != nil {
				return err
			}
		} else if err := s.emit(Fragment{Kind: FragmentEmote, Name: name}); err != nil {
			return err
		}
		s.pending = rest[end+1:]
	}
}

// Flush emits whatever is still pending as plain text.
func (s *emoteSplitter) Flush() error {
	if s.pending == "" {
		return nil
	}
	err := s.emit(Fragment{Kind: FragmentToken, Text: s.pending})
	s.pending = ""
	return err
}

// prefixOf returns the leading part of s no longer than pattern.
func prefixOf(s, pattern string) string {
	if len(s) > len(pattern) {
		return s[:len(pattern)]
	}
	return s
}
