package session

import (
	"github.com/go-gl/mathgl/mgl64"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/physics"
	"mygame/netsim/internal/tick"
	"mygame/netsim/pkg/config"
)

// jointTilt is the rotation joints spawn with.
const jointTilt = 0.6

// World builds entity controllers with identical physics on the authority
// and on observers. Both sides must agree on every setting or replays
// diverge.
type World struct {
	game config.GameConfig
	dt   float64
}

func NewWorld(game config.GameConfig, dt float64) World {
	return World{game: game, dt: dt}
}

func (w World) Delta() float64 { return w.dt }

func (w World) playerSettings() physics.Settings {
	s := physics.DefaultSettings()
	s.Gravity = mgl64.Vec2{0, w.game.Gravity}
	return s
}

func (w World) jointSettings() physics.Settings {
	s := physics.DefaultSettings()
	s.GravityScale = 0
	return s
}

// PlayerProxy creates a player body spawned next to its entity id.
func (w World) PlayerProxy(id core.EntityID) *physics.Proxy {
	pos := mgl64.Vec2{float64(id) * 2, 0}
	return physics.NewProxy(physics.NewBody(w.playerSettings(), pos), w.dt)
}

// JointProxy creates a tilted joint body.
func (w World) JointProxy(id core.EntityID) *physics.Proxy {
	body := physics.NewBody(w.jointSettings(), mgl64.Vec2{float64(id) * 2, 4})
	st := body.State()
	st.Rotation = jointTilt
	body.SetState(st)
	return physics.NewProxy(body, w.dt)
}

func (w World) Mover(p *physics.Proxy) *core.Mover {
	return core.NewMover(p, core.MoverConfig{MoveRate: w.game.MoveRate, JumpForce: w.game.JumpForce})
}

func (w World) Joint(p *physics.Proxy) *core.SpringJoint {
	return core.NewSpringJoint(p, core.SpringJointConfig{Spring: w.game.SpringStrength, Damper: w.game.DamperStrength})
}

// PlayerConfig is the controller config of a player. sample is nil unless
// the caller owns the player's input.
func (w World) PlayerConfig(id core.EntityID, sample func(t tick.Tick) core.MoveData) core.Config[core.MoveData] {
	p := w.PlayerProxy(id)
	return core.Config[core.MoveData]{
		ID:          id,
		Proxy:       p,
		Action:      w.Mover(p),
		Default:     core.DefaultMove,
		Sample:      sample,
		HistorySize: w.game.HistoryTicks,
	}
}

func (w World) JointConfig(id core.EntityID) core.Config[core.NoInput] {
	p := w.JointProxy(id)
	return core.Config[core.NoInput]{
		ID:          id,
		Proxy:       p,
		Action:      w.Joint(p),
		Default:     core.NewNoInput,
		HistorySize: w.game.HistoryTicks,
	}
}
