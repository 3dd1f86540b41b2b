package bt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/events"
	"github.com/lowaak/vitruvian-trainer/internal/go_func_utils"

	"tinygo.org/x/bluetooth"
)

// BTManagerInterface is what the transport needs from the adapter.
type BTManagerInterface interface {
	Enable() error
	Scan(ctx context.Context, filter ScanFilter) ([]BTDevice, error)
	Connect(ctx context.Context, device BTDevice, timeout time.Duration) error
	Disconnect(device BTDevice) error
	ListenToConnectionChanges(callback func(ConnectionChange)) func()
	Shutdown()
}

var _ BTManagerInterface = (*BTManager)(nil)

// ScanFilter limits a scan to advertised names with NamePrefix. A scan ends
// after Timeout, or as soon as PreferredAddress is seen.
type ScanFilter struct {
	NamePrefix       string
	Timeout          time.Duration
	PreferredAddress string
}

// ConnectionChange is emitted by the adapter's connect handler.
type ConnectionChange struct {
	Address   string
	Connected bool
}

type BTManager struct {
	adapter          *bluetooth.Adapter
	devicesByAddress map[string]*btDeviceImpl
	mu               sync.RWMutex
	scanMu           sync.Mutex // one scan at a time
	connectionEvent  *events.CallbackEvent[ConnectionChange]
	wg               sync.WaitGroup
	logger           *log.Logger
}

func NewBTManager(adapter *bluetooth.Adapter, logger *log.Logger) *BTManager {
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	return &BTManager{
		adapter:          adapter,
		devicesByAddress: make(map[string]*btDeviceImpl),
		connectionEvent:  events.NewCallbackEvent[ConnectionChange](false),
		logger:           logger,
	}
}

func (m *BTManager) getBTDeviceImpl(address bluetooth.Address) (*btDeviceImpl, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addressStr := address.String()
	result, ok := m.devicesByAddress[addressStr]
	if !ok {
		result = newBtDeviceImpl(m.logger, address)
		m.devicesByAddress[addressStr] = result
	}
	return result, !ok
}

func (m *BTManager) lookup(addressStr string) (*btDeviceImpl, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devicesByAddress[addressStr]
	if !ok || d == nil {
		return nil, fmt.Errorf("could not find device %s", addressStr)
	}
	return d, nil
}

func (m *BTManager) Enable() error {
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addressStr := device.Address.String()
		d, _ := m.getBTDeviceImpl(device.Address)
		if connected {
			m.logger.Printf("BTManager: Device connected: %s", addressStr)
			d.setConnectedDevice(&device)
		} else {
			m.logger.Printf("BTManager: Device disconnected: %s", addressStr)
			d.setConnectedDevice(nil)
		}
		m.connectionEvent.Notify(ConnectionChange{Address: addressStr, Connected: connected})
	})

	return m.adapter.Enable()
}

// Scan blocks until the filter's timeout, ctx cancellation or the preferred
// device shows up. Matching devices come back in no particular order.
func (m *BTManager) Scan(ctx context.Context, filter ScanFilter) ([]BTDevice, error) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	if filter.Timeout <= 0 {
		filter.Timeout = 10 * time.Second
	}
	m.logger.Printf("BTManager: Starting scan (prefix %q, timeout %v)", filter.NamePrefix, filter.Timeout)

	preferredSeen := make(chan struct{})
	var preferredOnce sync.Once
	found := make(map[string]*btDeviceImpl)
	var foundMu sync.Mutex
	scanErr := make(chan error, 1)

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		scanErr <- m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			d, isNew := m.getBTDeviceImpl(result.Address)
			d.setScanResult(&result, time.Now())
			if !d.hasNamePrefix(filter.NamePrefix) {
				return
			}
			addressStr := result.Address.String()
			foundMu.Lock()
			found[addressStr] = d
			foundMu.Unlock()
			if isNew {
				m.logger.Printf("BTManager: Found device: %s (%s) [RSSI: %d]", result.LocalName(), addressStr, result.RSSI)
			}
			if filter.PreferredAddress != "" && addressStr == filter.PreferredAddress {
				preferredOnce.Do(func() { close(preferredSeen) })
			}
		})
	})

	timer := time.NewTimer(filter.Timeout)
	defer timer.Stop()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
	case <-preferredSeen:
		m.logger.Printf("BTManager: Preferred device %s seen, ending scan early", filter.PreferredAddress)
	case err = <-scanErr:
		// the adapter gave up before we asked it to
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
	}

	if stopErr := m.adapter.StopScan(); stopErr != nil {
		m.logger.Printf("BTManager: Error stopping scan: %v", stopErr)
	}
	if err != nil {
		return nil, err
	}

	foundMu.Lock()
	devices := make([]*btDeviceImpl, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	foundMu.Unlock()

	result := make([]BTDevice, 0, len(devices))
	for _, d := range devices {
		result = append(result, d)
	}
	m.logger.Printf("BTManager: Scan finished with %d matching devices", len(result))
	return result, nil
}

// Connect blocks until the link is up or timeout passes.
func (m *BTManager) Connect(ctx context.Context, device BTDevice, timeout time.Duration) error {
	addressStr := device.GetAddressString()
	m.logger.Printf("BTManager: Attempting to connect to device: %s", addressStr)

	d, err := m.lookup(addressStr)
	if err != nil {
		return err
	}
	connected, err := m.adapter.Connect(d.getAddress(), bluetooth.ConnectionParams{})
	if err != nil {
		m.logger.Printf("BTManager: Connection error: %v", err)
		return err
	}
	d.setConnectedDevice(&connected)

	if err := d.WaitForConnection(ctx, timeout); err != nil {
		return err
	}
	m.logger.Printf("BTManager: Connected to %s", addressStr)
	return nil
}

func (m *BTManager) Disconnect(device BTDevice) error {
	addressStr := device.GetAddressString()
	m.logger.Printf("BTManager: Attempting to disconnect from device: %s", addressStr)

	d, err := m.lookup(addressStr)
	if err != nil {
		return err
	}
	inner := d.getConnectedDevice()
	if inner == nil {
		return nil
	}
	err = inner.Disconnect()
	d.setConnectedDevice(nil)
	return err
}

// ListenToConnectionChanges registers callback for adapter level connects
// and disconnects. Returns the deregistration function.
func (m *BTManager) ListenToConnectionChanges(callback func(ConnectionChange)) func() {
	return m.connectionEvent.Listen(callback)
}

func (m *BTManager) connectedDevices() []*btDeviceImpl {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*btDeviceImpl, 0)
	for _, d := range m.devicesByAddress {
		if d.IsConnected() {
			result = append(result, d)
		}
	}
	return result
}

// Shutdown disconnects everything and waits for the scan goroutine.
func (m *BTManager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")
	for _, d := range m.connectedDevices() {
		if err := m.Disconnect(d); err != nil {
			m.logger.Printf("BTManager: Error disconnecting from %v: %v", d.GetAddressString(), err)
		}
	}
	m.wg.Wait()
	m.logger.Println("BTManager: Shutdown complete")
}
