// Package transport moves raw command and telemetry frames between the
// workout controller and a trainer.
package transport

import (
	"context"
	"errors"
	"time"
)

// NamePrefix is the advertised name prefix of every supported trainer.
const NamePrefix = "Vee"

// GATT characteristics used by the trainer.
const (
	// CommandCharacteristicUUID is the Nordic UART RX characteristic. All
	// command frames are written here.
	CommandCharacteristicUUID = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	// MonitorCharacteristicUUID carries position and load. It does not
	// notify and has to be polled.
	MonitorCharacteristicUUID = "90e991a6-c548-44ed-969b-eb541014eae3"
	// RepCharacteristicUUID notifies the hardware rep counters.
	RepCharacteristicUUID = "8308f2a6-0875-4a94-a86f-5c5c5e1b068a"
	// PropertyCharacteristicUUID is read periodically to keep the link alive.
	PropertyCharacteristicUUID = "5fa538ec-d041-42f6-bbd6-c30d475387b7"
)

var (
	ErrNotConnected    = errors.New("transport: not connected")
	ErrNoDevice        = errors.New("transport: no trainer found")
	ErrCommandTooLarge = errors.New("transport: command exceeds a single write")
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsLost reports whether the link is gone.
func (s ConnectionState) IsLost() bool {
	return s == Disconnected || s == Error
}

// Device identifies a trainer found by Scan.
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	RSSI    int16  `json:"rssi"`
}

// Transport is the narrow link the controller drives. Callbacks run on
// transport goroutines and must not block.
type Transport interface {
	Scan(ctx context.Context, timeout time.Duration) (Device, error)
	Connect(ctx context.Context, device Device) error
	Disconnect() error
	// WriteCommand sends one frame of up to protocol.MaxCommandSize bytes in
	// a single write, never split.
	WriteCommand(data []byte) error
	SubscribeMonitor(callback func([]byte)) (func(), error)
	SubscribeRepNotifications(callback func([]byte)) (func(), error)
	ListenToConnectionState(callback func(ConnectionState)) func()
	State() ConnectionState
}
