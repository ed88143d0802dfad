// Package wire encodes the packets exchanged between the authority and its
// observers. The layout is plain protobuf so any protobuf runtime can read
// it; floats travel as their IEEE bit patterns and round-trip exactly.
//
//	message Packet {
//	  oneof payload {
//	    Join join = 1; Welcome welcome = 2; Input input = 3;
//	    Snapshot snapshot = 4; Despawn despawn = 5; Hello hello = 6;
//	  }
//	}
//
// The full schema is proto/netsim/v1/packet.proto.
package wire

import (
	"mygame/netsim/internal/core"
	"mygame/netsim/internal/physics"
	"mygame/netsim/internal/tick"
)

// Kind tells an observer which controller to spawn for an entity.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPlayer
	KindJoint
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindJoint:
		return "joint"
	default:
		return "unknown"
	}
}

// Join is the first packet a peer sends.
type Join struct {
	Username string
	Token    string
}

// Welcome answers Join with the entity the peer now owns.
type Welcome struct {
	Room      string
	Entity    core.EntityID
	Tick      tick.Tick
	TickRate  uint32
	LeadTicks uint32
}

// Input carries one owner-sampled record.
type Input struct {
	Entity core.EntityID
	Move   core.MoveData
}

// EntityState is one entity's correction inside a Snapshot.
type EntityState struct {
	Entity core.EntityID
	Kind   Kind
	State  physics.Snapshot
}

// Snapshot batches every correction of a tick.
type Snapshot struct {
	Tick   tick.Tick
	States []EntityState
}

// Corrections splits the snapshot into per-entity corrections.
func (s *Snapshot) Corrections() []core.Correction {
	out := make([]core.Correction, 0, len(s.States))
	for _, st := range s.States {
		out = append(out, core.Correction{Entity: st.Entity, Tick: s.Tick, State: st.State})
	}
	return out
}

// Despawn tells observers to drop an entity.
type Despawn struct {
	Entity core.EntityID
}

// Hello probes a datagram server before a connection counts as started.
// The server echoes it back unchanged.
type Hello struct {
	Nonce uint32
}

// Packet holds exactly one payload.
type Packet struct {
	Join     *Join
	Welcome  *Welcome
	Input    *Input
	Snapshot *Snapshot
	Despawn  *Despawn
	Hello    *Hello
}
