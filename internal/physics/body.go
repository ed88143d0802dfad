package physics

import (
	"github.com/go-gl/mathgl/mgl64"
)

// ForceMode distinguishes continuous force from an instantaneous impulse.
type ForceMode uint8

const (
	Force   ForceMode = iota // scaled by the step duration
	Impulse                  // applied as a velocity change in full
)

func (m ForceMode) String() string {
	if m == Impulse {
		return "impulse"
	}
	return "force"
}

// State is the full kinematic state of a body.
type State struct {
	Position        mgl64.Vec2
	Rotation        float64 // radians, counter-clockwise
	Velocity        mgl64.Vec2
	AngularVelocity float64
}

// RigidBody is the simulator a Proxy drives.
type RigidBody interface {
	ApplyForce(f mgl64.Vec2, mode ForceMode)
	ApplyTorque(t float64, mode ForceMode)
	Step(dt float64)
	State() State
	SetState(s State)
}

// Settings are the body's constant material properties.
type Settings struct {
	Mass         float64
	Inertia      float64
	GravityScale float64
	LinearDrag   float64
	AngularDrag  float64
	Gravity      mgl64.Vec2
}

// DefaultSettings mirror a unit 2D body under earth gravity.
func DefaultSettings() Settings {
	return Settings{
		Mass:         1,
		Inertia:      1,
		GravityScale: 1,
		LinearDrag:   0,
		AngularDrag:  0.05,
		Gravity:      mgl64.Vec2{0, -9.81},
	}
}

// Body is a deterministic semi-implicit Euler integrator.
type Body struct {
	settings Settings
	state    State

	force          mgl64.Vec2
	impulse        mgl64.Vec2
	torque         float64
	angularImpulse float64
}

// NewBody creates a body at rest at pos.
func NewBody(settings Settings, pos mgl64.Vec2) *Body {
	if settings.Mass <= 0 {
		settings.Mass = 1
	}
	if settings.Inertia <= 0 {
		settings.Inertia = 1
	}
	return &Body{settings: settings, state: State{Position: pos}}
}

func (b *Body) Settings() Settings { return b.settings }

func (b *Body) ApplyForce(f mgl64.Vec2, mode ForceMode) {
	if mode == Impulse {
		b.impulse = b.impulse.Add(f)
		return
	}
	b.force = b.force.Add(f)
}

func (b *Body) ApplyTorque(t float64, mode ForceMode) {
	if mode == Impulse {
		b.angularImpulse += t
		return
	}
	b.torque += t
}

// Step integrates one fixed step and clears the accumulators.
func (b *Body) Step(dt float64) {
	s := b.settings
	invMass := 1 / s.Mass
	invInertia := 1 / s.Inertia

	gx := float64(s.Gravity.X() * s.GravityScale)
	gy := float64(s.Gravity.Y() * s.GravityScale)

	vx := mad(b.impulse.X(), invMass, b.state.Velocity.X())
	vy := mad(b.impulse.Y(), invMass, b.state.Velocity.Y())
	vx = mad(mad(b.force.X(), invMass, gx), dt, vx)
	vy = mad(mad(b.force.Y(), invMass, gy), dt, vy)

	linearDamp := 1 / mad(dt, s.LinearDrag, 1)
	vx = float64(vx * linearDamp)
	vy = float64(vy * linearDamp)

	w := mad(b.angularImpulse, invInertia, b.state.AngularVelocity)
	w = mad(float64(b.torque*invInertia), dt, w)
	w = float64(w * (1 / mad(dt, s.AngularDrag, 1)))

	b.state = State{
		Position:        mgl64.Vec2{mad(vx, dt, b.state.Position.X()), mad(vy, dt, b.state.Position.Y())},
		Rotation:        mad(w, dt, b.state.Rotation),
		Velocity:        mgl64.Vec2{vx, vy},
		AngularVelocity: w,
	}

	b.force = mgl64.Vec2{}
	b.impulse = mgl64.Vec2{}
	b.torque = 0
	b.angularImpulse = 0
}

func (b *Body) State() State { return b.state }

func (b *Body) SetState(s State) { b.state = s }

// mad returns a*b+c rounded after the multiply. The explicit conversion
// keeps the compiler from fusing it into an FMA, whose rounding differs
// between architectures.
func mad(a, b, c float64) float64 {
	return float64(a*b) + c
}
