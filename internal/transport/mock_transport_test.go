package transport

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func connectedMock(t *testing.T) *MockTransport {
	t.Helper()
	m := NewMockTransport(testLogger(), Device{Address: "AA:BB", Name: "Vee_123"})
	dev, err := m.Scan(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background(), dev))
	return m
}

func TestMockTransport_ScanRequiresPrefix(t *testing.T) {
	m := NewMockTransport(testLogger(), Device{Address: "AA:BB", Name: "Other"})
	_, err := m.Scan(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestMockTransport_WriteRecordsFrames(t *testing.T) {
	m := connectedMock(t)

	var seen []string
	m.ListenToWrites(func(w WrittenCommand) { seen = append(seen, w.Description) })

	require.NoError(t, m.WriteCommand(protocol.EncodeInit()))
	require.NoError(t, m.WriteCommand(protocol.EncodeInitPreset()))

	writes := m.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, "0a000000", writes[0].DataHex)
	assert.Equal(t, []byte{protocol.CmdInit, protocol.CmdColorScheme}, m.WrittenCommandIDs())
	assert.Equal(t, []string{"INIT", "COLOR_SCHEME"}, seen)

	m.ClearWrites()
	assert.Empty(t, m.Writes())
}

func TestMockTransport_WriteFailures(t *testing.T) {
	m := NewMockTransport(testLogger(), Device{Address: "AA:BB", Name: "Vee_123"})
	assert.ErrorIs(t, m.WriteCommand(protocol.EncodeInit()), ErrNotConnected)

	m.SetConnectionState(Connected)
	boom := errors.New("gatt write failed")
	m.SetWriteError(boom)
	assert.ErrorIs(t, m.WriteCommand(protocol.EncodeInit()), boom)
	m.SetWriteError(nil)
	assert.NoError(t, m.WriteCommand(protocol.EncodeInit()))

	assert.ErrorIs(t, m.WriteCommand(make([]byte, protocol.MaxCommandSize+1)), ErrCommandTooLarge)
}

func TestMockTransport_ConnectError(t *testing.T) {
	m := NewMockTransport(testLogger(), Device{Address: "AA:BB", Name: "Vee_123"})
	var states []ConnectionState
	m.ListenToConnectionState(func(s ConnectionState) { states = append(states, s) })

	m.SetConnectError(errors.New("timeout"))
	err := m.Connect(context.Background(), Device{Address: "AA:BB"})
	require.Error(t, err)
	assert.Equal(t, Error, m.State())
	assert.Equal(t, []ConnectionState{Error}, states)
}

func TestMockTransport_InjectsToSubscribers(t *testing.T) {
	m := connectedMock(t)

	var reps []protocol.RepNotification
	unsubscribe, err := m.SubscribeRepNotifications(func(buf []byte) {
		n, err := protocol.DecodeRepFrame(buf)
		require.NoError(t, err)
		reps = append(reps, n)
	})
	require.NoError(t, err)

	var metrics []protocol.MonitorMetric
	_, err = m.SubscribeMonitor(func(buf []byte) {
		metric, err := protocol.DecodeMonitorFrame(buf)
		require.NoError(t, err)
		metrics = append(metrics, metric)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.MonitorSubscribers())

	m.InjectRep(3, 2)
	m.InjectMonitor(protocol.MonitorMetric{PositionA: 100, PositionB: 120, LoadA: 12.5})

	require.Len(t, reps, 1)
	assert.Equal(t, protocol.RepNotification{TopCounter: 3, CompleteCounter: 2}, reps[0])
	require.Len(t, metrics, 1)
	assert.Equal(t, 120, metrics[0].PositionB)
	assert.InDelta(t, 12.5, metrics[0].LoadA, 1e-9)

	unsubscribe()
	m.InjectRep(4, 3)
	assert.Len(t, reps, 1)
	assert.Equal(t, 0, m.RepSubscribers())
}

func TestConnectionState(t *testing.T) {
	assert.True(t, Disconnected.IsLost())
	assert.True(t, Error.IsLost())
	assert.False(t, Connected.IsLost())
	assert.False(t, Connecting.IsLost())
	assert.Equal(t, "Connected", Connected.String())
}
