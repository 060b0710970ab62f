// Package chanid resolves the opaque short channel strings the scheduler
// receives from frontends against an external station/channel table, the
// frequency/channel map referenced in the external-interfaces section.
package chanid

import "strings"

// Resolver reports whether a channel name (a symbolic station name or a
// tuner channel code) resolves in the external station table.
type Resolver interface {
	Resolve(name string) (code string, ok bool)
}

// StaticResolver is a Resolver backed by an in-memory station table,
// suitable for a channel map loaded from a configuration file.
type StaticResolver struct {
	// stations maps a case-folded station name or channel code to its
	// canonical tuner channel code.
	stations map[string]string
}

// NewStaticResolver builds a resolver from name/code pairs; keys are
// matched case-insensitively.
func NewStaticResolver(table map[string]string) *StaticResolver {
	s := &StaticResolver{stations: make(map[string]string, len(table))}
	for name, code := range table {
		s.stations[strings.ToUpper(name)] = code
	}
	return s
}

// Resolve looks up name (case-insensitively) in the station table.
func (s *StaticResolver) Resolve(name string) (string, bool) {
	code, ok := s.stations[strings.ToUpper(name)]
	return code, ok
}

// Add registers a station name/code pair, used when a channel map is
// reloaded or extended at runtime.
func (s *StaticResolver) Add(name, code string) {
	s.stations[strings.ToUpper(name)] = code
}

// Len returns the number of registered stations.
func (s *StaticResolver) Len() int { return len(s.stations) }
