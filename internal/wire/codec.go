package wire

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"google.golang.org/protobuf/encoding/protowire"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/tick"
)

var (
	ErrEmptyPacket = errors.New("packet carries no payload")
	ErrWireType    = errors.New("unexpected wire type")
	ErrOverflow    = errors.New("value overflows 32 bits")
)

// field numbers
const (
	packetJoin     protowire.Number = 1
	packetWelcome  protowire.Number = 2
	packetInput    protowire.Number = 3
	packetSnapshot protowire.Number = 4
	packetDespawn  protowire.Number = 5
	packetHello    protowire.Number = 6
)

// Marshal encodes p.
func Marshal(p *Packet) ([]byte, error) {
	var b []byte
	switch {
	case p == nil:
		return nil, ErrEmptyPacket
	case p.Join != nil:
		b = appendMessage(b, packetJoin, encodeJoin(p.Join))
	case p.Welcome != nil:
		b = appendMessage(b, packetWelcome, encodeWelcome(p.Welcome))
	case p.Input != nil:
		b = appendMessage(b, packetInput, encodeInput(p.Input))
	case p.Snapshot != nil:
		b = appendMessage(b, packetSnapshot, encodeSnapshot(p.Snapshot))
	case p.Despawn != nil:
		b = appendMessage(b, packetDespawn, encodeDespawn(p.Despawn))
	case p.Hello != nil:
		b = appendMessage(b, packetHello, encodeHello(p.Hello))
	default:
		return nil, ErrEmptyPacket
	}
	return b, nil
}

// Unmarshal decodes a packet. Unknown fields are skipped; when several
// payloads are present the last one wins, as with a protobuf oneof.
func Unmarshal(b []byte) (*Packet, error) {
	var p *Packet
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < packetJoin || num > packetHello {
			return skip(num, typ, b)
		}
		var raw []byte
		n, err := bytesField(typ, b, &raw)
		if err != nil {
			return 0, err
		}
		next := &Packet{}
		switch num {
		case packetJoin:
			next.Join, err = decodeJoin(raw)
		case packetWelcome:
			next.Welcome, err = decodeWelcome(raw)
		case packetInput:
			next.Input, err = decodeInput(raw)
		case packetSnapshot:
			next.Snapshot, err = decodeSnapshot(raw)
		case packetDespawn:
			next.Despawn, err = decodeDespawn(raw)
		case packetHello:
			next.Hello, err = decodeHello(raw)
		}
		if err != nil {
			return 0, fmt.Errorf("field %d: %w", num, err)
		}
		p = next
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrEmptyPacket
	}
	return p, nil
}

func encodeJoin(j *Join) []byte {
	var b []byte
	b = appendString(b, 1, j.Username)
	b = appendString(b, 2, j.Token)
	return b
}

func decodeJoin(b []byte) (*Join, error) {
	j := &Join{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return stringField(typ, b, &j.Username)
		case 2:
			return stringField(typ, b, &j.Token)
		}
		return skip(num, typ, b)
	})
	return j, err
}

func encodeWelcome(w *Welcome) []byte {
	var b []byte
	b = appendString(b, 1, w.Room)
	b = appendVarint(b, 2, uint64(w.Entity))
	b = appendVarint(b, 3, uint64(w.Tick))
	b = appendVarint(b, 4, uint64(w.TickRate))
	b = appendVarint(b, 5, uint64(w.LeadTicks))
	return b
}

func decodeWelcome(b []byte) (*Welcome, error) {
	w := &Welcome{}
	var entity, t, rate, lead uint32
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return stringField(typ, b, &w.Room)
		case 2:
			return uint32Field(typ, b, &entity)
		case 3:
			return uint32Field(typ, b, &t)
		case 4:
			return uint32Field(typ, b, &rate)
		case 5:
			return uint32Field(typ, b, &lead)
		}
		return skip(num, typ, b)
	})
	w.Entity, w.Tick, w.TickRate, w.LeadTicks = core.EntityID(entity), tick.Tick(t), rate, lead
	return w, err
}

func encodeInput(in *Input) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(in.Entity))
	b = appendVarint(b, 2, uint64(in.Move.Tick()))
	b = appendDouble(b, 3, in.Move.Horizontal)
	b = appendVarint(b, 4, protowire.EncodeBool(in.Move.Jump))
	return b
}

func decodeInput(b []byte) (*Input, error) {
	var entity, t uint32
	var jump uint64
	var h float64
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return uint32Field(typ, b, &entity)
		case 2:
			return uint32Field(typ, b, &t)
		case 3:
			return doubleField(typ, b, &h)
		case 4:
			return varintField(typ, b, &jump)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return &Input{
		Entity: core.EntityID(entity),
		Move:   core.NewMoveData(tick.Tick(t), protowire.DecodeBool(jump), h),
	}, nil
}

func encodeSnapshot(s *Snapshot) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(s.Tick))
	for i := range s.States {
		b = appendMessage(b, 2, encodeEntityState(&s.States[i]))
	}
	return b
}

func decodeSnapshot(b []byte) (*Snapshot, error) {
	s := &Snapshot{}
	var t uint32
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return uint32Field(typ, b, &t)
		case 2:
			var raw []byte
			n, err := bytesField(typ, b, &raw)
			if err != nil {
				return 0, err
			}
			st, err := decodeEntityState(raw)
			if err != nil {
				return 0, err
			}
			s.States = append(s.States, st)
			return n, nil
		}
		return skip(num, typ, b)
	})
	s.Tick = tick.Tick(t)
	return s, err
}

func encodeEntityState(e *EntityState) []byte {
	s := e.State
	var b []byte
	b = appendVarint(b, 1, uint64(e.Entity))
	b = appendVarint(b, 2, uint64(e.Kind))
	b = appendDouble(b, 3, s.Position.X())
	b = appendDouble(b, 4, s.Position.Y())
	b = appendDouble(b, 5, s.Rotation)
	b = appendDouble(b, 6, s.Velocity.X())
	b = appendDouble(b, 7, s.Velocity.Y())
	b = appendDouble(b, 8, s.AngularVelocity)
	b = appendDouble(b, 9, s.Force.X())
	b = appendDouble(b, 10, s.Force.Y())
	b = appendDouble(b, 11, s.Impulse.X())
	b = appendDouble(b, 12, s.Impulse.Y())
	b = appendDouble(b, 13, s.Torque)
	b = appendDouble(b, 14, s.AngularImpulse)
	return b
}

func decodeEntityState(b []byte) (EntityState, error) {
	var e EntityState
	var entity, kind uint32
	var px, py, vx, vy, fx, fy, ix, iy float64
	s := &e.State
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return uint32Field(typ, b, &entity)
		case 2:
			return uint32Field(typ, b, &kind)
		case 3:
			return doubleField(typ, b, &px)
		case 4:
			return doubleField(typ, b, &py)
		case 5:
			return doubleField(typ, b, &s.Rotation)
		case 6:
			return doubleField(typ, b, &vx)
		case 7:
			return doubleField(typ, b, &vy)
		case 8:
			return doubleField(typ, b, &s.AngularVelocity)
		case 9:
			return doubleField(typ, b, &fx)
		case 10:
			return doubleField(typ, b, &fy)
		case 11:
			return doubleField(typ, b, &ix)
		case 12:
			return doubleField(typ, b, &iy)
		case 13:
			return doubleField(typ, b, &s.Torque)
		case 14:
			return doubleField(typ, b, &s.AngularImpulse)
		}
		return skip(num, typ, b)
	})
	e.Entity, e.Kind = core.EntityID(entity), Kind(kind)
	s.Position = mgl64.Vec2{px, py}
	s.Velocity = mgl64.Vec2{vx, vy}
	s.Force = mgl64.Vec2{fx, fy}
	s.Impulse = mgl64.Vec2{ix, iy}
	return e, err
}

func encodeDespawn(d *Despawn) []byte {
	return appendVarint(nil, 1, uint64(d.Entity))
}

func decodeDespawn(b []byte) (*Despawn, error) {
	var entity uint32
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return uint32Field(typ, b, &entity)
		}
		return skip(num, typ, b)
	})
	return &Despawn{Entity: core.EntityID(entity)}, err
}

func encodeHello(h *Hello) []byte {
	return appendVarint(nil, 1, uint64(h.Nonce))
}

func decodeHello(b []byte) (*Hello, error) {
	h := &Hello{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			return uint32Field(typ, b, &h.Nonce)
		}
		return skip(num, typ, b)
	})
	return h, err
}

// --- protowire helpers ---

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func varintField(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, ErrWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func uint32Field(typ protowire.Type, b []byte, dst *uint32) (int, error) {
	var v uint64
	n, err := varintField(typ, b, &v)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, ErrOverflow
	}
	*dst = uint32(v)
	return n, nil
}

func doubleField(typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, ErrWireType
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = math.Float64frombits(v)
	return n, nil
}

func bytesField(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, ErrWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func stringField(typ protowire.Type, b []byte, dst *string) (int, error) {
	var raw []byte
	n, err := bytesField(typ, b, &raw)
	if err != nil {
		return 0, err
	}
	*dst = string(raw)
	return n, nil
}

// proto3 leaves zero values off the wire
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// positive zero is omitted; negative zero keeps its sign bit
func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	bits := math.Float64bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, bits)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// messages are always written, even empty, so the oneof case survives
func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
