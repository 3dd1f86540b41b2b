package protocol

import (
	"encoding/binary"
	"math"
)

// DecodeMonitorFrame parses a 16 byte monitor telemetry frame. Loads arrive
// in hundredths of a kilogram.
func DecodeMonitorFrame(buf []byte) (MonitorMetric, error) {
	if len(buf) != MonitorFrameSize {
		return MonitorMetric{}, &DecodeError{Frame: "monitor", Want: MonitorFrameSize, Got: len(buf)}
	}
	lo := binary.LittleEndian.Uint16(buf[0:])
	hi := binary.LittleEndian.Uint16(buf[2:])
	return MonitorMetric{
		Ticks:     uint32(lo) | uint32(hi)<<16,
		PositionA: int(binary.LittleEndian.Uint16(buf[4:])),
		LoadA:     float64(binary.LittleEndian.Uint16(buf[6:])) / 100,
		PositionB: int(binary.LittleEndian.Uint16(buf[8:])),
		LoadB:     float64(binary.LittleEndian.Uint16(buf[10:])) / 100,
	}, nil
}

// DecodeRepFrame parses a 6 byte rep notification.
func DecodeRepFrame(buf []byte) (RepNotification, error) {
	if len(buf) != RepFrameSize {
		return RepNotification{}, &DecodeError{Frame: "rep", Want: RepFrameSize, Got: len(buf)}
	}
	return RepNotification{
		TopCounter:      binary.LittleEndian.Uint16(buf[0:]),
		CompleteCounter: binary.LittleEndian.Uint16(buf[4:]),
	}, nil
}

// EncodeMonitorFrame is the inverse of DecodeMonitorFrame, used by the
// simulated device. Positions and loads are clamped to the u16 range.
func EncodeMonitorFrame(m MonitorMetric) []byte {
	buf := make([]byte, MonitorFrameSize)
	putU16(buf, 0, uint16(m.Ticks))
	putU16(buf, 2, uint16(m.Ticks>>16))
	putU16(buf, 4, clampU16(float64(m.PositionA)))
	putU16(buf, 6, clampU16(math.Round(m.LoadA*100)))
	putU16(buf, 8, clampU16(float64(m.PositionB)))
	putU16(buf, 10, clampU16(math.Round(m.LoadB*100)))
	return buf
}

// EncodeRepFrame is the inverse of DecodeRepFrame.
func EncodeRepFrame(n RepNotification) []byte {
	buf := make([]byte, RepFrameSize)
	putU16(buf, 0, n.TopCounter)
	putU16(buf, 4, n.CompleteCounter)
	return buf
}

func clampU16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}
