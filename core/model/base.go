// Package model provides the lifecycle state shared by proxy components and
// helpers to persist learned parameters.
package model

// State describes where a proxy is in its lifecycle.
type State int

const (
	// Uninitialized means attribute widths and statistics are unknown.
	Uninitialized State = iota
	// Initialized means widths and statistics are fixed but no network exists.
	Initialized
	// Built means the computation graph has been constructed.
	Built
)

// Lifecycle tracks the initialization state of a proxy. The zero value is
// Uninitialized.
type Lifecycle struct {
	state State
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State { return l.state }

// IsInitialized reports whether widths and statistics have been fixed.
func (l *Lifecycle) IsInitialized() bool { return l.state >= Initialized }

// IsBuilt reports whether the computation graph exists.
func (l *Lifecycle) IsBuilt() bool { return l.state >= Built }

// SetInitialized marks widths and statistics as fixed. It never downgrades
// a Built state.
func (l *Lifecycle) SetInitialized() {
	if l.state < Initialized {
		l.state = Initialized
	}
}

// SetBuilt marks the computation graph as constructed.
func (l *Lifecycle) SetBuilt() { l.state = Built }

// Reset returns the lifecycle to Uninitialized.
func (l *Lifecycle) Reset() { l.state = Uninitialized }
