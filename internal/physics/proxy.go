package physics

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Snapshot captures a body's kinematic state and whatever the proxy
// accumulated but has not yet applied.
type Snapshot struct {
	State
	Force          mgl64.Vec2
	Impulse        mgl64.Vec2
	Torque         float64
	AngularImpulse float64
}

// Distance is the positional divergence between two snapshots.
func (s Snapshot) Distance(o Snapshot) float64 {
	return s.Position.Sub(o.Position).Len()
}

// Proxy owns a RigidBody on behalf of exactly one controller. Forces added
// between steps are held here and handed to the body in a fixed order on
// Simulate, so replays feed the integrator identically.
type Proxy struct {
	body RigidBody
	dt   float64

	force          mgl64.Vec2
	impulse        mgl64.Vec2
	torque         float64
	angularImpulse float64
}

// NewProxy wraps body; dt is the fixed tick duration in seconds.
func NewProxy(body RigidBody, dt float64) *Proxy {
	return &Proxy{body: body, dt: dt}
}

func (p *Proxy) Body() RigidBody { return p.body }

func (p *Proxy) AddForce(f mgl64.Vec2, mode ForceMode) {
	if mode == Impulse {
		p.impulse = p.impulse.Add(f)
		return
	}
	p.force = p.force.Add(f)
}

func (p *Proxy) AddTorque(t float64, mode ForceMode) {
	if mode == Impulse {
		p.angularImpulse += t
		return
	}
	p.torque += t
}

// Simulate advances the body exactly one tick with everything pending.
func (p *Proxy) Simulate() {
	p.body.ApplyForce(p.force, Force)
	p.body.ApplyForce(p.impulse, Impulse)
	p.body.ApplyTorque(p.torque, Force)
	p.body.ApplyTorque(p.angularImpulse, Impulse)
	p.body.Step(p.dt)
	p.clearPending()
}

func (p *Proxy) State() State { return p.body.State() }

func (p *Proxy) Snapshot() Snapshot {
	return Snapshot{
		State:          p.body.State(),
		Force:          p.force,
		Impulse:        p.impulse,
		Torque:         p.torque,
		AngularImpulse: p.angularImpulse,
	}
}

// Restore replaces the body state and pending accumulators. It is a hard
// correction; nothing is blended.
func (p *Proxy) Restore(s Snapshot) {
	p.body.SetState(s.State)
	p.force = s.Force
	p.impulse = s.Impulse
	p.torque = s.Torque
	p.angularImpulse = s.AngularImpulse
}

func (p *Proxy) clearPending() {
	p.force = mgl64.Vec2{}
	p.impulse = mgl64.Vec2{}
	p.torque = 0
	p.angularImpulse = 0
}
