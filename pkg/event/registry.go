package event

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrEmptyName          = errors.New("event: source name is empty")
	ErrDuplicateName      = errors.New("event: duplicate source name")
	ErrNameCollision      = errors.New("event: record key collides with another source")
	ErrWidthTooLarge      = errors.New("event: source width exceeds 32 bits")
	ErrTooManySources     = errors.New("event: too many sources")
	ErrZeroWidthChange    = errors.New("event: zero-width source must be a strobe")
	ErrFieldWidthMismatch = errors.New("event: field widths do not sum to source width")
	ErrInvalidDepth       = errors.New("event: invalid queue depth")
	ErrRegistryFrozen     = errors.New("event: registry already built")
	ErrEmptyRegistry      = errors.New("event: registry has no sources")
)

// Option customizes a source at registration time.
type Option func(*Source)

// WithFields splits the source payload into named fields.
func WithFields(fields ...Field) Option {
	return func(s *Source) {
		s.Fields = slices.Clone(fields)
	}
}

// WithDepth overrides the default data queue depth.
func WithDepth(depth int) Option {
	return func(s *Source) {
		s.Depth = depth
	}
}

// Builder collects source registrations before a capture session starts.
// Sources cannot be added once Build has been called.
type Builder struct {
	sources []Source
	names   map[string]ID
	keys    map[string]struct{}
	frozen  bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{names: make(map[string]ID), keys: make(map[string]struct{})}
}

// Add registers a source and returns its wire ID.
func (b *Builder) Add(name string, kind Kind, width int, opts ...Option) (ID, error) {
	if b.frozen {
		return 0, ErrRegistryFrozen
	}

	src := Source{
		Name:  name,
		Kind:  kind,
		Width: width,
		Depth: DepthForWidth(width),
	}
	for _, opt := range opts {
		opt(&src)
	}

	if err := validateSource(src); err != nil {
		return 0, err
	}
	if _, dup := b.names[name]; dup {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	// Record keys share one namespace: plain source "b-0" and field "b" of
	// source "0" would both be reported as "b-0".
	keys := src.keys()
	for _, key := range keys {
		if _, taken := b.keys[key]; taken {
			return 0, fmt.Errorf("%w: %q", ErrNameCollision, key)
		}
	}
	if len(b.sources) >= MaxSources {
		return 0, fmt.Errorf("%w: at most %d allowed", ErrTooManySources, MaxSources)
	}

	id := ID(len(b.sources))
	b.sources = append(b.sources, src)
	b.names[name] = id
	for _, key := range keys {
		b.keys[key] = struct{}{}
	}
	return id, nil
}

// MustAdd is like Add but panics on error. Intended for static tables and
// tests.
func (b *Builder) MustAdd(name string, kind Kind, width int, opts ...Option) ID {
	id, err := b.Add(name, kind, width, opts...)
	if err != nil {
		panic(err)
	}
	return id
}

// Build freezes the builder into an immutable Registry.
func (b *Builder) Build() (*Registry, error) {
	if b.frozen {
		return nil, ErrRegistryFrozen
	}
	if len(b.sources) == 0 {
		return nil, ErrEmptyRegistry
	}
	b.frozen = true

	reg := &Registry{
		sources: make([]Source, len(b.sources)),
		byName:  make(map[string]ID, len(b.names)),
	}
	for i, src := range b.sources {
		src.Fields = slices.Clone(src.Fields)
		reg.sources[i] = src
	}
	for name, id := range b.names {
		reg.byName[name] = id
	}
	return reg, nil
}

func validateSource(s Source) error {
	if s.Name == "" {
		return ErrEmptyName
	}
	if s.Name == ThrottleName {
		return fmt.Errorf("event: source name %q is reserved", ThrottleName)
	}
	if s.Kind != KindChange && s.Kind != KindStrobe {
		return fmt.Errorf("event: source %q: unknown kind %q", s.Name, s.Kind)
	}
	if s.Width < 0 || s.Width > MaxWidth {
		return fmt.Errorf("%w: %q is %d bits", ErrWidthTooLarge, s.Name, s.Width)
	}
	if s.Width == 0 && s.Kind != KindStrobe {
		return fmt.Errorf("%w: %q", ErrZeroWidthChange, s.Name)
	}
	if s.Width > 0 && s.Depth < 4 {
		return fmt.Errorf("%w: %q depth %d, need at least 4", ErrInvalidDepth, s.Name, s.Depth)
	}
	if len(s.Fields) > 0 {
		total := 0
		seen := make(map[string]struct{}, len(s.Fields))
		for _, f := range s.Fields {
			if f.Name == "" || f.Width <= 0 {
				return fmt.Errorf("event: source %q: invalid field %q (width %d)", s.Name, f.Name, f.Width)
			}
			if _, dup := seen[f.Name]; dup {
				return fmt.Errorf("event: source %q: duplicate field %q", s.Name, f.Name)
			}
			seen[f.Name] = struct{}{}
			total += f.Width
		}
		if total != s.Width {
			return fmt.Errorf("%w: %q fields total %d bits, width is %d", ErrFieldWidthMismatch, s.Name, total, s.Width)
		}
	}
	return nil
}

// Registry is the frozen, ordered set of sources shared by the encoder and
// the decoder. A source's index is its wire ID.
type Registry struct {
	sources []Source
	byName  map[string]ID
}

// Len reports the number of registered sources.
func (r *Registry) Len() int {
	return len(r.sources)
}

// Source returns the source registered under id.
func (r *Registry) Source(id ID) (Source, bool) {
	if int(id) >= len(r.sources) {
		return Source{}, false
	}
	src := r.sources[id]
	src.Fields = slices.Clone(src.Fields)
	return src, true
}

// Lookup finds a source ID by name.
func (r *Registry) Lookup(name string) (ID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Sources returns a copy of all sources in wire order.
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	for i, src := range r.sources {
		src.Fields = slices.Clone(src.Fields)
		out[i] = src
	}
	return out
}

// Events lists every name a decoder fed by this registry may emit: the
// synthetic throttle event first, then each source, or each of its fields.
func (r *Registry) Events() []Info {
	infos := []Info{{Name: ThrottleName, Kind: KindThrottle, Width: 1}}
	for _, src := range r.sources {
		if len(src.Fields) == 0 {
			infos = append(infos, Info{Name: src.Name, Kind: src.Kind, Width: src.Width})
			continue
		}
		for _, f := range src.Fields {
			infos = append(infos, Info{Name: src.FieldKey(f), Kind: src.Kind, Width: f.Width})
		}
	}
	return infos
}
