package wire

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/physics"
)

func TestSnapshot_FloatsRoundTripBitExact(t *testing.T) {
	state := physics.Snapshot{
		State: physics.State{
			Position:        mgl64.Vec2{5, 2},
			Rotation:        math.Nextafter(0.1, 1),
			Velocity:        mgl64.Vec2{1.0 / 3, -9.81 / 64},
			AngularVelocity: math.Copysign(0, -1),
		},
		Force:          mgl64.Vec2{15, 0},
		Impulse:        mgl64.Vec2{0, 15},
		Torque:         -math.MaxFloat64,
		AngularImpulse: math.SmallestNonzeroFloat64,
	}
	in := &Packet{Snapshot: &Snapshot{
		Tick: 100,
		States: []EntityState{
			{Entity: 1, Kind: KindPlayer, State: state},
			{Entity: 2, Kind: KindJoint},
		},
	}}

	b, err := Marshal(in)
	require.NoError(t, err)
	out, err := Unmarshal(b)
	require.NoError(t, err)

	require.NotNil(t, out.Snapshot)
	assert.Equal(t, in.Snapshot.Tick, out.Snapshot.Tick)
	require.Len(t, out.Snapshot.States, 2)
	got := out.Snapshot.States[0].State
	assert.Equal(t, math.Float64bits(state.Rotation), math.Float64bits(got.Rotation))
	assert.Equal(t, math.Float64bits(state.Velocity.X()), math.Float64bits(got.Velocity.X()))
	assert.True(t, math.Signbit(got.AngularVelocity), "negative zero keeps its sign")
	assert.Equal(t, state, got)
	assert.Equal(t, KindJoint, out.Snapshot.States[1].Kind)
	assert.Equal(t, physics.Snapshot{}, out.Snapshot.States[1].State)
}

func TestSnapshot_Corrections(t *testing.T) {
	s := &Snapshot{Tick: 9, States: []EntityState{{Entity: 4}, {Entity: 5}}}

	cs := s.Corrections()

	require.Len(t, cs, 2)
	assert.Equal(t, core.Correction{Entity: 5, Tick: 9}, cs[1])
}

func TestInput_RoundTrip(t *testing.T) {
	in := &Packet{Input: &Input{Entity: 3, Move: core.NewMoveData(77, true, -0.5)}}

	b, err := Marshal(in)
	require.NoError(t, err)
	out, err := Unmarshal(b)
	require.NoError(t, err)

	assert.Equal(t, in.Input, out.Input)
	assert.Nil(t, out.Snapshot)
}

func TestWelcomeAndJoin(t *testing.T) {
	b, err := Marshal(&Packet{Welcome: &Welcome{Room: "r1", Entity: 8, Tick: 1 << 20, TickRate: 64, LeadTicks: 3}})
	require.NoError(t, err)
	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, &Welcome{Room: "r1", Entity: 8, Tick: 1 << 20, TickRate: 64, LeadTicks: 3}, out.Welcome)

	b, err = Marshal(&Packet{Join: &Join{}})
	require.NoError(t, err)
	out, err = Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, &Join{}, out.Join, "an empty payload still selects the case")
}

func TestMarshal_Empty(t *testing.T) {
	_, err := Marshal(&Packet{})
	assert.ErrorIs(t, err, ErrEmptyPacket)
	_, err = Marshal(nil)
	assert.ErrorIs(t, err, ErrEmptyPacket)

	_, err = Unmarshal(nil)
	assert.ErrorIs(t, err, ErrEmptyPacket)
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	b, err := Marshal(&Packet{Despawn: &Despawn{Entity: 12}})
	require.NoError(t, err)
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, core.EntityID(12), out.Despawn.Entity)
}

func TestUnmarshal_Malformed(t *testing.T) {
	b, err := Marshal(&Packet{Input: &Input{Entity: 3, Move: core.NewMoveData(1, false, 1)}})
	require.NoError(t, err)

	_, err = Unmarshal(b[:len(b)-2])
	assert.Error(t, err)

	wrongType := protowire.AppendTag(nil, packetInput, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 1)
	_, err = Unmarshal(wrongType)
	assert.ErrorIs(t, err, ErrWireType)

	inner := protowire.AppendTag(nil, 1, protowire.VarintType)
	inner = protowire.AppendVarint(inner, math.MaxUint32+1)
	overflow := protowire.AppendTag(nil, packetDespawn, protowire.BytesType)
	overflow = protowire.AppendBytes(overflow, inner)
	_, err = Unmarshal(overflow)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestHello_RoundTrip(t *testing.T) {
	for _, nonce := range []uint32{0, 1, math.MaxUint32} {
		b, err := Marshal(&Packet{Hello: &Hello{Nonce: nonce}})
		require.NoError(t, err)

		out, err := Unmarshal(b)
		require.NoError(t, err)
		require.NotNil(t, out.Hello, "nonce %d", nonce)
		assert.Equal(t, nonce, out.Hello.Nonce)
		assert.Nil(t, out.Join)
	}
}
