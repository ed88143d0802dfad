package core

import (
	"math"
	"sync"

	"mygame/netsim/internal/tick"
)

// InputSource reads the raw controls of the machine that owns an entity.
type InputSource interface {
	Read(t tick.Tick) (jump bool, horizontal float64)
}

// Sampler turns one reading per tick into an immutable MoveData.
type Sampler struct {
	src InputSource
}

func NewSampler(src InputSource) *Sampler {
	return &Sampler{src: src}
}

// Sample captures the input for t.
func (s *Sampler) Sample(t tick.Tick) MoveData {
	jump, h := s.src.Read(t)
	return NewMoveData(t, jump, clampAxis(h))
}

func clampAxis(h float64) float64 {
	if math.IsNaN(h) {
		return 0
	}
	return math.Max(-1, math.Min(1, h))
}

// LatchedInput is fed by an input goroutine between ticks. A jump press is
// latched until the next read consumes it so short presses are not lost.
type LatchedInput struct {
	mu         sync.Mutex
	jump       bool
	horizontal float64
}

func (l *LatchedInput) PressJump() {
	l.mu.Lock()
	l.jump = true
	l.mu.Unlock()
}

func (l *LatchedInput) SetHorizontal(h float64) {
	l.mu.Lock()
	l.horizontal = h
	l.mu.Unlock()
}

func (l *LatchedInput) Read(tick.Tick) (bool, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	jump := l.jump
	l.jump = false
	return jump, l.horizontal
}

// ScriptedInput derives controls from the tick alone: it walks right and
// left in alternating periods and jumps every JumpEvery ticks.
type ScriptedInput struct {
	Period    tick.Tick
	JumpEvery tick.Tick
}

func (s ScriptedInput) Read(t tick.Tick) (bool, float64) {
	h := 0.0
	if s.Period > 0 {
		if (t/s.Period)%2 == 0 {
			h = 1
		} else {
			h = -1
		}
	}
	jump := s.JumpEvery > 0 && t%s.JumpEvery == 0
	return jump, h
}
