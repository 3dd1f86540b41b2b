package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readF32(buf []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[offset:]))
}

func baseParams() ProgramParams {
	return ProgramParams{
		Type:             Program{Mode: OldSchool},
		Reps:             10,
		WarmupReps:       3,
		WeightPerCableKg: 20,
	}
}

func TestEncodeInit(t *testing.T) {
	assert.Equal(t, []byte{0x0A, 0x00, 0x00, 0x00}, EncodeInit())
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x00}, EncodeStart())
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x00}, EncodeStop())
}

func TestEncodeInitPreset(t *testing.T) {
	first := EncodeInitPreset()
	require.Len(t, first, InitPresetFrameSize)
	assert.Equal(t, CmdColorScheme, first[0])
	assert.Equal(t, float32(0.4), readF32(first, 12))
	assert.Equal(t, first, EncodeInitPreset())
}

func TestEncodeProgramParams_DeterministicForEveryType(t *testing.T) {
	types := []WorkoutType{}
	for _, m := range ProgramModes {
		types = append(types, Program{Mode: m})
	}
	for _, l := range EchoLevels {
		types = append(types, Echo{Level: l, EccentricLoad: EccentricLoad100})
	}

	for _, wt := range types {
		t.Run(wt.String(), func(t *testing.T) {
			p := baseParams()
			p.Type = wt
			p.ProgressionKg = 0.5

			first, err := EncodeProgramParams(p)
			require.NoError(t, err)
			second, err := EncodeProgramParams(p)
			require.NoError(t, err)
			third, err := EncodeProgramParams(p)
			require.NoError(t, err)

			assert.Len(t, first, ProgramParamsFrameSize)
			assert.Equal(t, first, second)
			assert.Equal(t, second, third)
		})
	}
}

func TestEncodeProgramParams_WeightIsPerCable(t *testing.T) {
	p := baseParams()
	p.WeightPerCableKg = 22.68

	buf, err := EncodeProgramParams(p)
	require.NoError(t, err)

	assert.Equal(t, float32(22.68), readF32(buf, 0x58))
	assert.InDelta(t, 32.68, readF32(buf, 0x54), 1e-4)
	assert.Equal(t, float32(0), readF32(buf, 0x5C))
}

func TestEncodeProgramParams_ProgressionCompensation(t *testing.T) {
	p := baseParams()
	p.WeightPerCableKg = 30
	p.ProgressionKg = 2.5

	buf, err := EncodeProgramParams(p)
	require.NoError(t, err)
	assert.Equal(t, float32(27.5), readF32(buf, 0x58))
	assert.Equal(t, float32(37.5), readF32(buf, 0x54))
	assert.Equal(t, float32(2.5), readF32(buf, 0x5C))

	p.ProgressionKg = -1
	buf, err = EncodeProgramParams(p)
	require.NoError(t, err)
	assert.Equal(t, float32(31), readF32(buf, 0x58))
	assert.Equal(t, float32(-1), readF32(buf, 0x5C))
}

func TestEncodeProgramParams_RepsField(t *testing.T) {
	p := baseParams()
	buf, err := EncodeProgramParams(p)
	require.NoError(t, err)
	assert.Equal(t, byte(14), buf[0x04])

	p.IsJustLift = true
	buf, err = EncodeProgramParams(p)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), buf[0x04])

	p.IsJustLift = false
	p.Reps = 250
	p.WarmupReps = 10
	_, err = EncodeProgramParams(p)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "reps", cfgErr.Field)
}

func TestEncodeProgramParams_ProfileBlock(t *testing.T) {
	profiles := map[ProgramMode][]byte{}
	for _, m := range ProgramModes {
		p := baseParams()
		p.Type = Program{Mode: m}
		buf, err := EncodeProgramParams(p)
		require.NoError(t, err)
		profiles[m] = buf[0x30:0x50]
	}
	for _, a := range ProgramModes {
		for _, b := range ProgramModes {
			if a != b {
				assert.NotEqual(t, profiles[a], profiles[b], "%s vs %s", a, b)
			}
		}
	}

	echo := baseParams()
	echo.Type = Echo{Level: EchoEpic}
	buf, err := EncodeProgramParams(echo)
	require.NoError(t, err)
	assert.Equal(t, profiles[OldSchool], buf[0x30:0x50])

	justLift := baseParams()
	justLift.Type = Program{Mode: TUTBeast}
	justLift.IsJustLift = true
	buf, err = EncodeProgramParams(justLift)
	require.NoError(t, err)
	assert.Equal(t, profiles[OldSchool], buf[0x30:0x50])

	assert.Equal(t, int16(-1300), int16(binary.LittleEndian.Uint16(profiles[OldSchool][16:])))
}

func TestEncodeProgramParams_InvalidInput(t *testing.T) {
	p := baseParams()
	p.WeightPerCableKg = -1
	_, err := EncodeProgramParams(p)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	p = baseParams()
	p.WeightPerCableKg = 101
	_, err = EncodeProgramParams(p)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	p = baseParams()
	p.Type = Program{Mode: ProgramMode(42)}
	_, err = EncodeProgramParams(p)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	p = baseParams()
	p.Reps = -1
	_, err = EncodeProgramParams(p)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestEncodeEchoControl(t *testing.T) {
	tests := []struct {
		level EchoLevel
		gain  float32
		cap   float32
	}{
		{EchoHard, 1.0, 50},
		{EchoHarder, 1.25, 40},
		{EchoHardest, 1.667, 30},
		{EchoEpic, 3.333, 15},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			buf, err := EncodeEchoControl(tt.level, 3, 8, false, 120)
			require.NoError(t, err)
			require.Len(t, buf, EchoControlFrameSize)
			assert.Equal(t, CmdEchoControl, buf[0])
			assert.Equal(t, byte(3), buf[0x04])
			assert.Equal(t, byte(12), buf[0x05])
			assert.Equal(t, uint16(120), binary.LittleEndian.Uint16(buf[0x08:]))
			assert.Equal(t, uint16(50), binary.LittleEndian.Uint16(buf[0x0A:]))
			assert.Equal(t, float32(0.1), readF32(buf, 0x0C))
			assert.Equal(t, tt.gain, readF32(buf, 0x10))
			assert.Equal(t, tt.cap, readF32(buf, 0x14))

			again, err := EncodeEchoControl(tt.level, 3, 8, false, 120)
			require.NoError(t, err)
			assert.Equal(t, buf, again)
		})
	}

	buf, err := EncodeEchoControl(EchoHard, 3, 8, true, 100)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), buf[0x05])

	_, err = EncodeEchoControl(EchoHard, 3, 8, false, 151)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	_, err = EncodeEchoControl(EchoLevel(9), 3, 8, false, 100)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestEncodeColorScheme(t *testing.T) {
	colors := []RGB{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	buf, err := EncodeColorScheme(0.8, colors)
	require.NoError(t, err)
	require.Len(t, buf, ColorSchemeFrameSize)
	assert.Equal(t, float32(0.8), readF32(buf, 12))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 1, 2, 3, 4, 5, 6, 7, 8, 9}, buf[16:34])

	for _, n := range []int{0, 2, 4} {
		_, err := EncodeColorScheme(0.5, make([]RGB, n))
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr, "colours=%d", n)
		assert.Equal(t, "colors", cfgErr.Field)
	}

	_, err = EncodeColorScheme(1.5, colors)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestFrameSizes(t *testing.T) {
	assert.Len(t, EncodeInit(), 4)
	assert.Len(t, EncodeInitPreset(), 34)
	assert.Len(t, EncodeStart(), 4)
	assert.Len(t, EncodeStop(), 4)

	for _, weight := range []float64{0, 0.5, 22.68, 100} {
		for _, reps := range []int{0, 1, 12, 200} {
			p := ProgramParams{Type: Program{Mode: Pump}, Reps: reps, WeightPerCableKg: weight, ProgressionKg: 1}
			buf, err := EncodeProgramParams(p)
			require.NoError(t, err)
			assert.Len(t, buf, 96)

			echo, err := EncodeEchoControl(EchoHarder, 0, reps, false, 75)
			require.NoError(t, err)
			assert.Len(t, echo, 32)
		}
	}
}

func TestDecodeMonitorFrame(t *testing.T) {
	buf := []byte{
		0x34, 0x12, // ticks low
		0x01, 0x00, // ticks high
		0xE8, 0x03, // posA 1000
		0xC4, 0x09, // loadA 2500 -> 25.00
		0xD0, 0x07, // posB 2000
		0x10, 0x27, // loadB 10000 -> 100.00
		0, 0, 0, 0,
	}
	m, err := DecodeMonitorFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11234), m.Ticks)
	assert.Equal(t, 1000, m.PositionA)
	assert.Equal(t, 2000, m.PositionB)
	assert.InDelta(t, 25.0, m.LoadA, 1e-9)
	assert.InDelta(t, 100.0, m.LoadB, 1e-9)
	assert.False(t, m.HasSpike())

	again := EncodeMonitorFrame(m)
	assert.Equal(t, buf, again)
}

func TestDecodeMonitorFrame_WrongLength(t *testing.T) {
	for _, n := range []int{0, 15, 17, 20} {
		_, err := DecodeMonitorFrame(make([]byte, n))
		var decErr *DecodeError
		require.ErrorAs(t, err, &decErr)
		assert.Equal(t, n, decErr.Got)
		assert.True(t, errors.Is(err, ErrMalformedFrame))
	}
}

func TestDecodeRepFrame(t *testing.T) {
	n, err := DecodeRepFrame([]byte{0xFF, 0xFF, 0xAA, 0xBB, 0x02, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), n.TopCounter)
	assert.Equal(t, uint16(2), n.CompleteCounter)

	_, err = DecodeRepFrame([]byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrMalformedFrame)
	_, err = DecodeRepFrame(make([]byte, 16))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestIsPositionSpike(t *testing.T) {
	assert.False(t, IsPositionSpike(3000))
	assert.False(t, IsPositionSpike(50000))
	assert.True(t, IsPositionSpike(50001))
	assert.True(t, IsPositionSpike(65535))
}

func TestParseNames(t *testing.T) {
	m, err := ParseProgramMode("tut_beast")
	require.NoError(t, err)
	assert.Equal(t, TUTBeast, m)
	m, err = ParseProgramMode("Old School")
	require.NoError(t, err)
	assert.Equal(t, OldSchool, m)
	_, err = ParseProgramMode("crossfit")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	l, err := ParseEchoLevel("EPIC")
	require.NoError(t, err)
	assert.Equal(t, EchoEpic, l)
}

func TestDescribeCommand(t *testing.T) {
	program, err := EncodeProgramParams(baseParams())
	require.NoError(t, err)
	echo, err := EncodeEchoControl(EchoHard, 0, 10, false, 100)
	require.NoError(t, err)

	assert.Equal(t, "INIT", DescribeCommand(EncodeInit()))
	assert.Equal(t, "STOP", DescribeCommand(EncodeStop()))
	assert.Equal(t, "COLOR_SCHEME", DescribeCommand(EncodeInitPreset()))
	assert.Contains(t, DescribeCommand(program), "PROGRAM_PARAMS")
	assert.Contains(t, DescribeCommand(echo), "ECHO_CONTROL")
	assert.Equal(t, "EMPTY", DescribeCommand(nil))
	assert.Contains(t, DescribeCommand([]byte{0x77}), "UNKNOWN")

	assert.True(t, StartsProgram(program))
	assert.True(t, StartsProgram(echo))
	assert.False(t, StartsProgram(EncodeInit()))
	assert.True(t, ReleasesLoad(EncodeInit()))
	assert.True(t, ReleasesLoad(EncodeStop()))
	assert.False(t, ReleasesLoad(program))
}

func TestProgramWeightPerCable(t *testing.T) {
	p := baseParams()
	p.WeightPerCableKg = 22.5
	frame, err := EncodeProgramParams(p)
	require.NoError(t, err)

	weight, ok := ProgramWeightPerCable(frame)
	require.True(t, ok)
	assert.InDelta(t, 22.5, weight, 1e-6)

	_, ok = ProgramWeightPerCable(EncodeInit())
	assert.False(t, ok)
}
