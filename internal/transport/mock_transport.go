package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/events"
	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

// WrittenCommand records one frame written to the trainer.
type WrittenCommand struct {
	Timestamp   time.Time `json:"timestamp"`
	Data        []byte    `json:"data"`
	DataHex     string    `json:"dataHex"`
	Description string    `json:"description"`
}

// MockTransport is an in-memory Transport. Tests and the simulated device
// inject frames into it and inspect what was written.
type MockTransport struct {
	logger *log.Logger
	device Device

	mu           sync.Mutex
	state        ConnectionState
	writes       []WrittenCommand
	writeErr     error
	connectErr   error
	stateEvent   *events.CallbackEvent[ConnectionState]
	monitorEvent *events.CallbackEvent[[]byte]
	repEvent     *events.CallbackEvent[[]byte]
	writeEvent   *events.CallbackEvent[WrittenCommand]
}

var _ Transport = (*MockTransport)(nil)

func NewMockTransport(logger *log.Logger, device Device) *MockTransport {
	if logger == nil {
		panic("MockTransport: logger cannot be nil")
	}
	return &MockTransport{
		logger:       logger,
		device:       device,
		state:        Disconnected,
		stateEvent:   events.NewCallbackEvent[ConnectionState](false),
		monitorEvent: events.NewCallbackEvent[[]byte](false),
		repEvent:     events.NewCallbackEvent[[]byte](false),
		writeEvent:   events.NewCallbackEvent[WrittenCommand](false),
	}
}

func (m *MockTransport) Scan(ctx context.Context, timeout time.Duration) (Device, error) {
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}
	if !strings.HasPrefix(m.device.Name, NamePrefix) {
		return Device{}, ErrNoDevice
	}
	return m.device, nil
}

func (m *MockTransport) Connect(ctx context.Context, device Device) error {
	if device.Address != m.device.Address {
		return fmt.Errorf("device %s: %w", device.Address, ErrNoDevice)
	}
	m.mu.Lock()
	err := m.connectErr
	m.mu.Unlock()
	if err != nil {
		m.SetConnectionState(Error)
		return fmt.Errorf("connect %s: %w", device.Address, err)
	}
	m.SetConnectionState(Connected)
	return nil
}

func (m *MockTransport) Disconnect() error {
	m.SetConnectionState(Disconnected)
	return nil
}

func (m *MockTransport) WriteCommand(data []byte) error {
	if len(data) > protocol.MaxCommandSize {
		return fmt.Errorf("%d bytes: %w", len(data), ErrCommandTooLarge)
	}
	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	written := WrittenCommand{
		Timestamp:   time.Now(),
		Data:        frame,
		DataHex:     hex.EncodeToString(frame),
		Description: protocol.DescribeCommand(frame),
	}
	m.writes = append(m.writes, written)
	m.mu.Unlock()

	m.logger.Printf("MockTransport: Wrote %s", written.Description)
	m.writeEvent.Notify(written)
	return nil
}

func (m *MockTransport) SubscribeMonitor(callback func([]byte)) (func(), error) {
	return m.monitorEvent.Listen(callback), nil
}

func (m *MockTransport) SubscribeRepNotifications(callback func([]byte)) (func(), error) {
	return m.repEvent.Listen(callback), nil
}

func (m *MockTransport) ListenToConnectionState(callback func(ConnectionState)) func() {
	return m.stateEvent.Listen(callback)
}

func (m *MockTransport) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// --- test controls ---

// SetConnectionState simulates the link changing state.
func (m *MockTransport) SetConnectionState(state ConnectionState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()
	m.logger.Printf("MockTransport: State changed to %s", state)
	m.stateEvent.Notify(state)
}

// SetWriteError makes every following write fail with err. nil clears it.
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetConnectError makes Connect fail with err. nil clears it.
func (m *MockTransport) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// Writes returns a copy of everything written so far.
func (m *MockTransport) Writes() []WrittenCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WrittenCommand, len(m.writes))
	copy(out, m.writes)
	return out
}

// WrittenCommandIDs returns the first byte of every write, in order.
func (m *MockTransport) WrittenCommandIDs() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]byte, 0, len(m.writes))
	for _, w := range m.writes {
		if len(w.Data) > 0 {
			ids = append(ids, w.Data[0])
		}
	}
	return ids
}

func (m *MockTransport) ClearWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
}

// ListenToWrites is called after every successful write.
func (m *MockTransport) ListenToWrites(callback func(WrittenCommand)) func() {
	return m.writeEvent.Listen(callback)
}

// InjectMonitorFrame delivers a raw monitor frame to subscribers.
func (m *MockTransport) InjectMonitorFrame(frame []byte) {
	m.monitorEvent.Notify(frame)
}

// InjectRepFrame delivers a raw rep frame to subscribers.
func (m *MockTransport) InjectRepFrame(frame []byte) {
	m.repEvent.Notify(frame)
}

func (m *MockTransport) InjectMonitor(metric protocol.MonitorMetric) {
	m.InjectMonitorFrame(protocol.EncodeMonitorFrame(metric))
}

func (m *MockTransport) InjectRep(top, complete uint16) {
	m.InjectRepFrame(protocol.EncodeRepFrame(protocol.RepNotification{TopCounter: top, CompleteCounter: complete}))
}

// MonitorSubscribers returns the number of monitor subscribers.
func (m *MockTransport) MonitorSubscribers() int {
	return m.monitorEvent.ListenerCount()
}

// RepSubscribers returns the number of rep subscribers.
func (m *MockTransport) RepSubscribers() int {
	return m.repEvent.ListenerCount()
}
