package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/safe_map"
	"tinygo.org/x/bluetooth"
)

// ErrNotConnected is returned by characteristic operations on a device that
// has no live connection.
var ErrNotConnected = errors.New("bt: device not connected")

// BTDevice is one peripheral seen by a scan. Characteristics are addressed by
// UUID alone: the trainer spreads its characteristics over several services
// and no two services share a characteristic UUID.
type BTDevice interface {
	GetAddressString() string
	GetLocalName() string
	GetScanRSSI() (int16, error)
	GetScanLastSeen() time.Time
	IsConnected() bool
	WaitForConnection(ctx context.Context, timeout time.Duration) error
	EnableNotifications(characteristicUuid string, callbackFunc func(buf []byte)) error
	DisableNotifications(characteristicUuid string) error
	ReadCharacteristic(characteristicUuid string) ([]byte, error)
	WriteCharacteristic(characteristicUuid string, data []byte) error
}

type btDeviceImpl struct {
	address         bluetooth.Address
	scanLastSeen    time.Time
	scanResult      *bluetooth.ScanResult
	connectedDevice *bluetooth.Device // nil if not connected
	mu              sync.RWMutex
	// bleMu serializes characteristic operations. Discovery interleaved with
	// a write breaks the write on some stacks.
	bleMu                sync.Mutex
	logger               *log.Logger
	characteristicByUuid *safe_map.SafeMap[string, *bluetooth.DeviceCharacteristic]
	discovered           bool
}

func newBtDeviceImpl(logger *log.Logger, address bluetooth.Address) *btDeviceImpl {
	if logger == nil {
		panic("logger must be non nil")
	}
	return &btDeviceImpl{
		logger:               logger,
		address:              address,
		scanLastSeen:         time.Unix(0, 0),
		characteristicByUuid: safe_map.NewSafeMap[string, *bluetooth.DeviceCharacteristic](),
	}
}

func (b *btDeviceImpl) getAddress() bluetooth.Address {
	return b.address
}

func (b *btDeviceImpl) GetAddressString() string {
	return b.address.String()
}

func (b *btDeviceImpl) GetLocalName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.scanResult != nil {
		if name := b.scanResult.LocalName(); name != "" {
			return name
		}
	}
	return "Unknown"
}

func (b *btDeviceImpl) hasNamePrefix(prefix string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scanResult != nil && strings.HasPrefix(b.scanResult.LocalName(), prefix)
}

func (b *btDeviceImpl) GetScanRSSI() (int16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.scanResult == nil {
		return 0, errors.New("no rssi available")
	}
	return b.scanResult.RSSI, nil
}

func (b *btDeviceImpl) GetScanLastSeen() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scanLastSeen
}

func (b *btDeviceImpl) setScanResult(scanResult *bluetooth.ScanResult, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanResult = scanResult
	b.scanLastSeen = at
}

func (b *btDeviceImpl) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connectedDevice != nil
}

// setConnectedDevice records the live connection. A nil device also drops
// the characteristic cache, handles do not survive a reconnect.
func (b *btDeviceImpl) setConnectedDevice(device *bluetooth.Device) {
	b.mu.Lock()
	b.connectedDevice = device
	b.mu.Unlock()

	if device == nil {
		b.bleMu.Lock()
		b.characteristicByUuid.Clear()
		b.discovered = false
		b.bleMu.Unlock()
	}
}

func (b *btDeviceImpl) getConnectedDevice() *bluetooth.Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connectedDevice
}

func (b *btDeviceImpl) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	timeoutChan := time.After(timeout)

	for {
		if b.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-timeoutChan:
			return fmt.Errorf("timeout after %v waiting for connection", timeout)
		}
	}
}

func (b *btDeviceImpl) EnableNotifications(characteristicUuidStr string, callbackFunc func(buf []byte)) error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	characteristic, err := b.getDeviceCharacteristic(characteristicUuidStr)
	if err != nil {
		return err
	}
	if err := characteristic.EnableNotifications(callbackFunc); err != nil {
		return fmt.Errorf("failed to enable notifications on %s: %w", characteristicUuidStr, err)
	}
	b.logger.Printf("BTDevice: Notifications enabled for %s", characteristicUuidStr)
	return nil
}

func (b *btDeviceImpl) DisableNotifications(characteristicUuidStr string) error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	characteristic, err := b.getDeviceCharacteristic(characteristicUuidStr)
	if err != nil {
		return err
	}
	// a nil callback disables notifications
	if err := characteristic.EnableNotifications(nil); err != nil {
		return fmt.Errorf("failed to disable notifications on %s: %w", characteristicUuidStr, err)
	}
	return nil
}

func (b *btDeviceImpl) ReadCharacteristic(characteristicUuidStr string) ([]byte, error) {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()

	characteristic, err := b.getDeviceCharacteristic(characteristicUuidStr)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 512)
	n, err := characteristic.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", characteristicUuidStr, err)
	}
	return buf[:n], nil
}

// WriteCharacteristic writes with response, the trainer acknowledges every
// command.
func (b *btDeviceImpl) WriteCharacteristic(characteristicUuidStr string, data []byte) error {
	b.bleMu.Lock()
	defer b.bleMu.Unlock()
	characteristic, err := b.getDeviceCharacteristic(characteristicUuidStr)
	if err != nil {
		return err
	}
	if _, err := characteristic.Write(data); err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", characteristicUuidStr, err)
	}
	return nil
}

// getDeviceCharacteristic must be called with bleMu held. The first lookup
// discovers every service and characteristic at once, discovering services
// one by one interrupts notifications already enabled on earlier ones.
func (b *btDeviceImpl) getDeviceCharacteristic(characteristicUuidStr string) (*bluetooth.DeviceCharacteristic, error) {
	charUuid, err := bluetooth.ParseUUID(characteristicUuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", characteristicUuidStr, err)
	}
	key := charUuid.String()

	if characteristic, ok := b.characteristicByUuid.Load(key); ok {
		return characteristic, nil
	}

	connectedDevice := b.getConnectedDevice()
	if connectedDevice == nil {
		return nil, ErrNotConnected
	}

	if !b.discovered {
		b.logger.Printf("BTDevice: Discovering all services for %s", b.GetAddressString())
		services, err := connectedDevice.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("error discovering services: %w", err)
		}
		for i := range services {
			svc := &services[i]
			chars, err := svc.DiscoverCharacteristics(nil)
			if err != nil {
				b.logger.Printf("BTDevice: Could not discover characteristics for service %s: %v", svc.UUID().String(), err)
				continue
			}
			for j := range chars {
				char := &chars[j]
				b.characteristicByUuid.Store(char.UUID().String(), char)
			}
		}
		b.discovered = true
		b.logger.Printf("BTDevice: Cached %d characteristics", b.characteristicByUuid.Len())
	}

	characteristic, ok := b.characteristicByUuid.Load(key)
	if !ok {
		return nil, fmt.Errorf("characteristic %v not found on device", key)
	}
	return characteristic, nil
}
