package reverie

import (
	"context"

	"github.com/zoobzio/pipz"
)

// Do creates a turn processor from a function that can fail. This is
// how custom logic is spliced into a pipeline.
func Do(name string, fn func(context.Context, *Turn) (*Turn, error)) pipz.Processor[*Turn] {
	return pipz.Apply(pipz.NewIdentity(name, ""), fn)
}

// Effect creates a processor that observes a turn without modifying it.
// Use for logging, metrics, or other side effects.
func Effect(name string, fn func(context.Context, *Turn) error) pipz.Processor[*Turn] {
	return pipz.Effect(pipz.NewIdentity(name, ""), fn)
}

// Enrich creates a processor whose failure is logged but does not stop
// the pipeline. Use for best-effort enhancement.
func Enrich(name string, fn func(context.Context, *Turn) (*Turn, error)) pipz.Processor[*Turn] {
	return pipz.Enrich(pipz.NewIdentity(name, ""), fn)
}

// Sequence composes turn processors into a sequential pipeline; each
// processor receives the output of the previous one.
func Sequence(name string, processors ...pipz.Chainable[*Turn]) *pipz.Sequence[*Turn] {
	return pipz.NewSequence(pipz.NewIdentity(name, ""), processors...)
}
