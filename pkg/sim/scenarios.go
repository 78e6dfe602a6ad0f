package sim

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
)

// ScenarioBuilder registers sources together with the signals driving them.
type ScenarioBuilder struct {
	builder *event.Builder
	signals []Signal
	err     error
}

// NewScenarioBuilder creates an empty scenario.
func NewScenarioBuilder() *ScenarioBuilder {
	return &ScenarioBuilder{builder: event.NewBuilder()}
}

// Add registers a source driven by sig. Errors are deferred to Build.
func (sb *ScenarioBuilder) Add(name string, kind event.Kind, width int, sig Signal, opts ...event.Option) *ScenarioBuilder {
	if sb.err != nil {
		return sb
	}
	if _, err := sb.builder.Add(name, kind, width, opts...); err != nil {
		sb.err = fmt.Errorf("failed to add source %s: %w", name, err)
		return sb
	}
	sb.signals = append(sb.signals, sig)
	return sb
}

// Build creates the Harness for the scenario.
func (sb *ScenarioBuilder) Build(opts ...HarnessOption) (*Harness, error) {
	if sb.err != nil {
		return nil, sb.err
	}
	reg, err := sb.builder.Build()
	if err != nil {
		return nil, err
	}
	return NewHarness(reg, sb.signals, opts...)
}

// DefaultSignals picks a reproducible signal for every source of reg:
// change sources follow a random level that changes every few cycles and
// strobes fire at random.
func DefaultSignals(reg *event.Registry, seed uint64) []Signal {
	sources := reg.Sources()
	signals := make([]Signal, len(sources))
	for i, src := range sources {
		rnd := NewRandom(seed+uint64(i), 0.25)
		if src.Kind == event.KindStrobe {
			signals[i] = rnd
			continue
		}
		var level uint32
		signals[i] = Changes(func(cycle uint64) uint32 {
			if data, ok := rnd.Sample(cycle); ok {
				level = data
			}
			return level
		}, src.Mask())
	}
	return signals
}

// Predefined scenarios for common testing needs

// BuildCounterScenario has an 8-bit counter changing every other cycle and
// a strobe every fifth cycle.
func BuildCounterScenario(opts ...HarnessOption) (*Harness, error) {
	return NewScenarioBuilder().
		Add("count", event.KindChange, 8, &Counter{Period: 2, Step: 1}).
		Add("tick", event.KindStrobe, 0, Strobe{Period: 5}).
		Build(opts...)
}

// BuildBusScenario has a 16-bit bus split into address and data fields, a
// 1-bit enable and a sparse 32-bit word.
func BuildBusScenario(seed uint64, opts ...HarnessOption) (*Harness, error) {
	return NewScenarioBuilder().
		Add("bus", event.KindChange, 16, NewRandom(seed, 0.3),
			event.WithFields(event.Field{Name: "addr", Width: 4}, event.Field{Name: "data", Width: 12})).
		Add("en", event.KindChange, 1, &Counter{Period: 7, Step: 1}).
		Add("word", event.KindStrobe, 32, NewRandom(seed+1, 0.05)).
		Build(opts...)
}
