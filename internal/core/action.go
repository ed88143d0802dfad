package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"mygame/netsim/internal/physics"
)

// Action is the deterministic transition of one entity: given an input and
// the body's current state it advances the body exactly once. It must not
// depend on anything else, or replays will not converge.
type Action[T Record] interface {
	Replicate(in T, state ReplicateState)
}

// MoverConfig holds the tuning of a player body.
type MoverConfig struct {
	MoveRate  float64
	JumpForce float64
}

// DefaultMoverConfig matches the stock player prefab.
func DefaultMoverConfig() MoverConfig {
	return MoverConfig{MoveRate: 15, JumpForce: 15}
}

// Mover drives a player body from MoveData.
type Mover struct {
	proxy *physics.Proxy
	cfg   MoverConfig

	lastCreated MoveData
	hasCreated  bool
}

func NewMover(proxy *physics.Proxy, cfg MoverConfig) *Mover {
	return &Mover{proxy: proxy, cfg: cfg}
}

// LastCreated returns the newest created input the mover has seen.
func (m *Mover) LastCreated() (MoveData, bool) {
	return m.lastCreated, m.hasCreated
}

func (m *Mover) Replicate(md MoveData, state ReplicateState) {
	switch state {
	case ReplayedFuture:
		// Hold the last known input for one tick past it; further ahead
		// the guess is worse than no input at all.
		if m.hasCreated && md.Tick() == m.lastCreated.Tick()+1 {
			md = m.lastCreated.WithTick(md.Tick())
		}
	case Created, ReplayedCreated:
		m.lastCreated = md
		m.hasCreated = true
	}

	m.proxy.AddForce(mgl64.Vec2{float64(md.Horizontal * m.cfg.MoveRate), 0}, physics.Force)
	if md.Jump {
		m.proxy.AddForce(mgl64.Vec2{0, m.cfg.JumpForce}, physics.Impulse)
	}
	m.proxy.Simulate()
}

// SpringJointConfig tunes a rotational spring that keeps a body upright.
type SpringJointConfig struct {
	Spring float64
	Damper float64
}

// SpringJoint is the action of a body that is not input driven: it pulls
// the body's up axis back to world up and damps its spin.
type SpringJoint struct {
	proxy *physics.Proxy
	cfg   SpringJointConfig
}

func NewSpringJoint(proxy *physics.Proxy, cfg SpringJointConfig) *SpringJoint {
	return &SpringJoint{proxy: proxy, cfg: cfg}
}

func (j *SpringJoint) Replicate(_ NoInput, _ ReplicateState) {
	s := j.proxy.State()
	// z of cross(up, worldUp) with up = (-sin r, cos r)
	spring := float64(j.cfg.Spring * -math.Sin(s.Rotation))
	damp := float64(j.cfg.Damper * -s.AngularVelocity)
	j.proxy.AddTorque(spring+damp, physics.Force)
	j.proxy.Simulate()
}
