package transport

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/bt"
	"github.com/lowaak/vitruvian-trainer/internal/events"
	"github.com/lowaak/vitruvian-trainer/internal/go_func_utils"
	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

// BLEConfig tunes the BLE link.
type BLEConfig struct {
	NamePrefix          string
	ConnectTimeout      time.Duration
	MonitorPollInterval time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultBLEConfig() BLEConfig {
	return BLEConfig{
		NamePrefix:          NamePrefix,
		ConnectTimeout:      10 * time.Second,
		MonitorPollInterval: 100 * time.Millisecond,
		KeepAliveInterval:   500 * time.Millisecond,
	}
}

const (
	pollMonitor   = "monitor"
	pollKeepAlive = "keepalive"
)

// BLETransport talks to a real trainer through a bt.BTManagerInterface.
// Monitor telemetry is polled while anyone is subscribed, rep counters
// arrive as notifications and the property characteristic is read while
// connected to keep the link alive.
type BLETransport struct {
	manager   bt.BTManagerInterface
	cfg       BLEConfig
	preferred *PreferredDeviceStore
	logger    *log.Logger

	mu      sync.Mutex
	device  bt.BTDevice
	scanned map[string]bt.BTDevice
	state   ConnectionState

	stateEvent   *events.CallbackEvent[ConnectionState]
	monitorEvent *events.CallbackEvent[[]byte]
	repEvent     *events.CallbackEvent[[]byte]

	pollMu        sync.Mutex
	pollStopChans map[string]chan struct{}
	pollWg        sync.WaitGroup

	unlistenManager func()
}

var _ Transport = (*BLETransport)(nil)

// NewBLETransport wraps manager. preferred may be nil.
func NewBLETransport(manager bt.BTManagerInterface, cfg BLEConfig, preferred *PreferredDeviceStore, logger *log.Logger) *BLETransport {
	if logger == nil {
		panic("BLETransport: logger cannot be nil")
	}
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = NamePrefix
	}
	t := &BLETransport{
		manager:       manager,
		cfg:           cfg,
		preferred:     preferred,
		logger:        logger,
		scanned:       make(map[string]bt.BTDevice),
		state:         Disconnected,
		stateEvent:    events.NewCallbackEvent[ConnectionState](false),
		monitorEvent:  events.NewCallbackEvent[[]byte](false),
		repEvent:      events.NewCallbackEvent[[]byte](false),
		pollStopChans: make(map[string]chan struct{}),
	}
	t.unlistenManager = manager.ListenToConnectionChanges(t.onConnectionChange)
	return t
}

func (t *BLETransport) Scan(ctx context.Context, timeout time.Duration) (Device, error) {
	filter := bt.ScanFilter{NamePrefix: t.cfg.NamePrefix, Timeout: timeout}
	if t.preferred != nil {
		filter.PreferredAddress = t.preferred.Address()
	}

	found, err := t.manager.Scan(ctx, filter)
	if err != nil {
		return Device{}, fmt.Errorf("scan: %w", err)
	}
	if len(found) == 0 {
		return Device{}, ErrNoDevice
	}

	t.mu.Lock()
	for _, d := range found {
		t.scanned[d.GetAddressString()] = d
	}
	t.mu.Unlock()

	rankDevices(found, filter.PreferredAddress)
	best := found[0]
	rssi, _ := best.GetScanRSSI()
	return Device{Address: best.GetAddressString(), Name: best.GetLocalName(), RSSI: rssi}, nil
}

// rankDevices orders scan results best first: the preferred address, then
// the strongest signal, then the most recently seen.
func rankDevices(devices []bt.BTDevice, preferredAddress string) {
	sort.SliceStable(devices, func(i, j int) bool {
		ai, aj := devices[i].GetAddressString(), devices[j].GetAddressString()
		if preferredAddress != "" && (ai == preferredAddress) != (aj == preferredAddress) {
			return ai == preferredAddress
		}
		ri, errI := devices[i].GetScanRSSI()
		rj, errJ := devices[j].GetScanRSSI()
		if (errI == nil) != (errJ == nil) {
			return errI == nil
		}
		if ri != rj {
			return ri > rj
		}
		return devices[i].GetScanLastSeen().After(devices[j].GetScanLastSeen())
	})
}

func (t *BLETransport) Connect(ctx context.Context, device Device) error {
	t.mu.Lock()
	btDevice, ok := t.scanned[device.Address]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s was not found by a scan: %w", device.Address, ErrNoDevice)
	}

	t.setState(Connecting)
	if err := t.manager.Connect(ctx, btDevice, t.cfg.ConnectTimeout); err != nil {
		t.logger.Printf("BLETransport: Connect to %s failed: %v", device.Address, err)
		t.setState(Error)
		return fmt.Errorf("connect %s: %w", device.Address, err)
	}

	if err := btDevice.EnableNotifications(RepCharacteristicUUID, t.onRepNotification); err != nil {
		t.logger.Printf("BLETransport: Rep notifications unavailable: %v", err)
		_ = t.manager.Disconnect(btDevice)
		t.setState(Error)
		return fmt.Errorf("subscribe rep notifications: %w", err)
	}

	t.mu.Lock()
	t.device = btDevice
	t.mu.Unlock()

	if err := t.startPoll(pollKeepAlive, PropertyCharacteristicUUID, t.cfg.KeepAliveInterval, func([]byte) {}); err != nil {
		t.logger.Printf("BLETransport: %v", err)
	}
	if t.monitorEvent.ListenerCount() > 0 {
		if err := t.startPoll(pollMonitor, MonitorCharacteristicUUID, t.cfg.MonitorPollInterval, t.monitorEvent.Notify); err != nil {
			t.logger.Printf("BLETransport: %v", err)
		}
	}

	if t.preferred != nil {
		t.preferred.Set(device)
	}
	t.setState(Connected)
	t.logger.Printf("BLETransport: Connected to %s (%s)", device.Name, device.Address)
	return nil
}

func (t *BLETransport) Disconnect() error {
	t.stopAllPolls()

	t.mu.Lock()
	btDevice := t.device
	t.device = nil
	t.mu.Unlock()

	if btDevice == nil {
		t.setState(Disconnected)
		return nil
	}
	if err := btDevice.DisableNotifications(RepCharacteristicUUID); err != nil {
		t.logger.Printf("BLETransport: Disable rep notifications: %v", err)
	}
	err := t.manager.Disconnect(btDevice)
	t.setState(Disconnected)
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (t *BLETransport) WriteCommand(data []byte) error {
	if len(data) > protocol.MaxCommandSize {
		return fmt.Errorf("%d bytes: %w", len(data), ErrCommandTooLarge)
	}
	t.mu.Lock()
	btDevice := t.device
	t.mu.Unlock()
	if btDevice == nil {
		return ErrNotConnected
	}
	if err := btDevice.WriteCharacteristic(CommandCharacteristicUUID, data); err != nil {
		return fmt.Errorf("write %s: %w", protocol.DescribeCommand(data), err)
	}
	return nil
}

// SubscribeMonitor starts polling with the first subscriber and stops it
// when the last one leaves.
func (t *BLETransport) SubscribeMonitor(callback func([]byte)) (func(), error) {
	unregister := t.monitorEvent.Listen(callback)

	t.mu.Lock()
	connected := t.device != nil
	t.mu.Unlock()
	if connected && !t.isPolling(pollMonitor) {
		if err := t.startPoll(pollMonitor, MonitorCharacteristicUUID, t.cfg.MonitorPollInterval, t.monitorEvent.Notify); err != nil {
			t.logger.Printf("BLETransport: %v", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unregister()
			if t.monitorEvent.ListenerCount() == 0 {
				t.stopPoll(pollMonitor)
			}
		})
	}, nil
}

func (t *BLETransport) SubscribeRepNotifications(callback func([]byte)) (func(), error) {
	return t.repEvent.Listen(callback), nil
}

func (t *BLETransport) ListenToConnectionState(callback func(ConnectionState)) func() {
	return t.stateEvent.Listen(callback)
}

func (t *BLETransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Shutdown stops polling, disconnects and detaches from the manager.
func (t *BLETransport) Shutdown() {
	if err := t.Disconnect(); err != nil {
		t.logger.Printf("BLETransport: %v", err)
	}
	t.unlistenManager()
	t.pollWg.Wait()
	t.logger.Printf("BLETransport: All poll goroutines stopped")
}

func (t *BLETransport) setState(state ConnectionState) {
	t.mu.Lock()
	if t.state == state {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.mu.Unlock()
	t.stateEvent.Notify(state)
}

func (t *BLETransport) onRepNotification(buf []byte) {
	// the stack reuses its buffer between notifications
	frame := make([]byte, len(buf))
	copy(frame, buf)
	t.repEvent.Notify(frame)
}

func (t *BLETransport) onConnectionChange(change bt.ConnectionChange) {
	if change.Connected {
		return
	}
	t.mu.Lock()
	current := t.device
	if current == nil || current.GetAddressString() != change.Address {
		t.mu.Unlock()
		return
	}
	t.device = nil
	t.mu.Unlock()

	t.logger.Printf("BLETransport: Link to %s dropped", change.Address)
	t.stopAllPolls()
	t.setState(Disconnected)
}

// --- Polling ---

func (t *BLETransport) isPolling(key string) bool {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()
	_, ok := t.pollStopChans[key]
	return ok
}

// startPoll reads characteristicUuid every period and hands the data to
// handler, the same way a notification would.
func (t *BLETransport) startPoll(key, characteristicUuid string, period time.Duration, handler func([]byte)) error {
	t.mu.Lock()
	btDevice := t.device
	t.mu.Unlock()
	if btDevice == nil {
		return ErrNotConnected
	}

	t.pollMu.Lock()
	defer t.pollMu.Unlock()
	if _, exists := t.pollStopChans[key]; exists {
		return fmt.Errorf("poll %s already active", key)
	}
	stopChan := make(chan struct{})
	t.pollStopChans[key] = stopChan

	t.pollWg.Add(1)
	go_func_utils.SafeGo(t.logger, func() {
		defer t.pollWg.Done()
		defer func() {
			t.pollMu.Lock()
			if t.pollStopChans[key] == stopChan {
				delete(t.pollStopChans, key)
			}
			t.pollMu.Unlock()
		}()

		t.logger.Printf("BLETransport: Starting %s poll (period: %v)", key, period)
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-stopChan:
				t.logger.Printf("BLETransport: Stopping %s poll", key)
				return
			case <-ticker.C:
				if !btDevice.IsConnected() {
					t.logger.Printf("BLETransport: Device disconnected, stopping %s poll", key)
					return
				}
				data, err := btDevice.ReadCharacteristic(characteristicUuid)
				if err != nil {
					t.logger.Printf("BLETransport: %s poll read error: %v", key, err)
					continue
				}
				handler(data)
			}
		}
	})
	return nil
}

func (t *BLETransport) stopPoll(key string) {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()
	if stopChan, exists := t.pollStopChans[key]; exists {
		close(stopChan)
		delete(t.pollStopChans, key)
	}
}

func (t *BLETransport) stopAllPolls() {
	t.pollMu.Lock()
	for key, stopChan := range t.pollStopChans {
		close(stopChan)
		delete(t.pollStopChans, key)
	}
	t.pollMu.Unlock()
}
