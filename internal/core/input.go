package core

import (
	"fmt"

	"mygame/netsim/internal/tick"
)

// EntityID identifies a networked entity within a room.
type EntityID uint32

// Record is an immutable tick-stamped input value.
type Record interface {
	Tick() tick.Tick
}

// ReplicateState says why an input record is being processed.
type ReplicateState uint8

const (
	Invalid         ReplicateState = iota // no meaningful input this tick
	Created                               // first simulation of a freshly produced input
	ReplayedCreated                       // re-simulation of a known input after a correction
	ReplayedFuture                        // re-simulation of a tick with no known input
)

func (s ReplicateState) String() string {
	switch s {
	case Created:
		return "created"
	case ReplayedCreated:
		return "replayed-created"
	case ReplayedFuture:
		return "replayed-future"
	default:
		return "invalid"
	}
}

// IsReplay reports whether the state belongs to a rollback replay.
func (s ReplicateState) IsReplay() bool {
	return s == ReplayedCreated || s == ReplayedFuture
}

// MoveData is the input of a player-controlled body.
type MoveData struct {
	Jump       bool
	Horizontal float64

	tick tick.Tick
}

// NewMoveData builds an input stamped with t.
func NewMoveData(t tick.Tick, jump bool, horizontal float64) MoveData {
	return MoveData{Jump: jump, Horizontal: horizontal, tick: t}
}

func (m MoveData) Tick() tick.Tick { return m.tick }

// WithTick returns a copy of m stamped with t.
func (m MoveData) WithTick(t tick.Tick) MoveData {
	m.tick = t
	return m
}

func (m MoveData) String() string {
	return fmt.Sprintf("move{tick=%d h=%.3f jump=%t}", m.tick, m.Horizontal, m.Jump)
}

// NoInput is the record of bodies that are not input driven.
type NoInput struct {
	tick tick.Tick
}

func NewNoInput(t tick.Tick) NoInput { return NoInput{tick: t} }

func (n NoInput) Tick() tick.Tick { return n.tick }

// Factory produces the default record for a tick when no input is known.
type Factory[T Record] func(t tick.Tick) T

// DefaultMove is the no-op MoveData factory.
func DefaultMove(t tick.Tick) MoveData { return MoveData{tick: t} }
