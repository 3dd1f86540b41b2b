package transport

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/vitruvian-trainer/internal/bt"
	"github.com/lowaak/vitruvian-trainer/internal/events"
	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

type fakeBTDevice struct {
	address string
	name    string
	rssi    int16
	seen    time.Time

	mu        sync.Mutex
	connected bool
	notify    map[string]func([]byte)
	reads     map[string]int
	writes    [][]byte
	readData  map[string][]byte
	notifyErr error
}

func newFakeBTDevice(address, name string, rssi int16) *fakeBTDevice {
	return &fakeBTDevice{
		address:  address,
		name:     name,
		rssi:     rssi,
		notify:   make(map[string]func([]byte)),
		reads:    make(map[string]int),
		readData: make(map[string][]byte),
	}
}

func (d *fakeBTDevice) GetAddressString() string    { return d.address }
func (d *fakeBTDevice) GetLocalName() string        { return d.name }
func (d *fakeBTDevice) GetScanRSSI() (int16, error) { return d.rssi, nil }
func (d *fakeBTDevice) GetScanLastSeen() time.Time  { return d.seen }
func (d *fakeBTDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}
func (d *fakeBTDevice) setConnected(c bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = c
}
func (d *fakeBTDevice) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	return nil
}
func (d *fakeBTDevice) EnableNotifications(uuid string, cb func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.notifyErr != nil {
		return d.notifyErr
	}
	d.notify[uuid] = cb
	return nil
}
func (d *fakeBTDevice) DisableNotifications(uuid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notify, uuid)
	return nil
}
func (d *fakeBTDevice) ReadCharacteristic(uuid string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads[uuid]++
	return d.readData[uuid], nil
}
func (d *fakeBTDevice) readCount(uuid string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads[uuid]
}
func (d *fakeBTDevice) WriteCharacteristic(uuid string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uuid != CommandCharacteristicUUID {
		return errors.New("unexpected characteristic")
	}
	d.writes = append(d.writes, data)
	return nil
}
func (d *fakeBTDevice) fireNotification(uuid string, data []byte) {
	d.mu.Lock()
	cb := d.notify[uuid]
	d.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

type fakeBTManager struct {
	devices    []*fakeBTDevice
	lastFilter bt.ScanFilter
	connectErr error
	changes    *events.CallbackEvent[bt.ConnectionChange]
}

func newFakeBTManager(devices ...*fakeBTDevice) *fakeBTManager {
	return &fakeBTManager{devices: devices, changes: events.NewCallbackEvent[bt.ConnectionChange](false)}
}

func (m *fakeBTManager) Enable() error { return nil }
func (m *fakeBTManager) Scan(ctx context.Context, filter bt.ScanFilter) ([]bt.BTDevice, error) {
	m.lastFilter = filter
	out := make([]bt.BTDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}
func (m *fakeBTManager) Connect(ctx context.Context, device bt.BTDevice, timeout time.Duration) error {
	if m.connectErr != nil {
		return m.connectErr
	}
	device.(*fakeBTDevice).setConnected(true)
	return nil
}
func (m *fakeBTManager) Disconnect(device bt.BTDevice) error {
	device.(*fakeBTDevice).setConnected(false)
	return nil
}
func (m *fakeBTManager) ListenToConnectionChanges(cb func(bt.ConnectionChange)) func() {
	return m.changes.Listen(cb)
}
func (m *fakeBTManager) Shutdown() {}

func fastBLEConfig() BLEConfig {
	cfg := DefaultBLEConfig()
	cfg.MonitorPollInterval = 5 * time.Millisecond
	cfg.KeepAliveInterval = 5 * time.Millisecond
	return cfg
}

func connectBLE(t *testing.T, dev *fakeBTDevice, preferred *PreferredDeviceStore) (*BLETransport, *fakeBTManager) {
	t.Helper()
	manager := newFakeBTManager(dev)
	tr := NewBLETransport(manager, fastBLEConfig(), preferred, testLogger())
	t.Cleanup(tr.Shutdown)

	found, err := tr.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background(), found))
	return tr, manager
}

func TestBLETransport_ScanUsesPrefixAndPreferredDevice(t *testing.T) {
	store := NewPreferredDeviceStore(filepath.Join(t.TempDir(), "device.json"), testLogger())
	store.Set(Device{Address: "BB", Name: "Vee_2"})

	manager := newFakeBTManager(newFakeBTDevice("AA", "Vee_1", -40), newFakeBTDevice("BB", "Vee_2", -80))
	tr := NewBLETransport(manager, fastBLEConfig(), store, testLogger())

	dev, err := tr.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "BB", dev.Address)
	assert.Equal(t, "Vee", manager.lastFilter.NamePrefix)
	assert.Equal(t, "BB", manager.lastFilter.PreferredAddress)
}

func TestBLETransport_ScanRanksBySignalThenRecency(t *testing.T) {
	now := time.Now()
	weak := newFakeBTDevice("AA", "Vee_1", -90)
	stale := newFakeBTDevice("BB", "Vee_2", -50)
	stale.seen = now.Add(-5 * time.Second)
	fresh := newFakeBTDevice("CC", "Vee_3", -50)
	fresh.seen = now

	tr := NewBLETransport(newFakeBTManager(weak, stale, fresh), fastBLEConfig(), nil, testLogger())
	dev, err := tr.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "CC", dev.Address)
	assert.Equal(t, int16(-50), dev.RSSI)
	assert.Equal(t, "Vee_3", dev.Name)
}

func TestRankDevices(t *testing.T) {
	now := time.Now()
	a := newFakeBTDevice("AA", "Vee_1", -40)
	a.seen = now.Add(-time.Second)
	b := newFakeBTDevice("BB", "Vee_2", -80)
	c := newFakeBTDevice("CC", "Vee_3", -40)
	c.seen = now

	devices := []bt.BTDevice{a, b, c}
	rankDevices(devices, "BB")
	assert.Equal(t, []bt.BTDevice{b, c, a}, devices)

	rankDevices(devices, "")
	assert.Equal(t, []bt.BTDevice{c, a, b}, devices)
}

func TestBLETransport_ScanFindsNothing(t *testing.T) {
	tr := NewBLETransport(newFakeBTManager(), fastBLEConfig(), nil, testLogger())
	_, err := tr.Scan(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestBLETransport_ConnectRemembersDeviceAndKeepsAlive(t *testing.T) {
	store := NewPreferredDeviceStore(filepath.Join(t.TempDir(), "device.json"), testLogger())
	dev := newFakeBTDevice("AA", "Vee_1", -40)
	tr, _ := connectBLE(t, dev, store)

	assert.Equal(t, Connected, tr.State())
	assert.Equal(t, "AA", store.Address())
	require.Eventually(t, func() bool {
		return dev.readCount(PropertyCharacteristicUUID) >= 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, dev.readCount(MonitorCharacteristicUUID), "monitor is only polled with subscribers")
}

func TestBLETransport_ConnectFailureIsErrorState(t *testing.T) {
	dev := newFakeBTDevice("AA", "Vee_1", -40)
	manager := newFakeBTManager(dev)
	manager.connectErr = errors.New("le-connection-abort-by-local")
	tr := NewBLETransport(manager, fastBLEConfig(), nil, testLogger())

	found, err := tr.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Error(t, tr.Connect(context.Background(), found))
	assert.Equal(t, Error, tr.State())

	assert.ErrorIs(t, tr.Connect(context.Background(), Device{Address: "ZZ"}), ErrNoDevice)
}

func TestBLETransport_WriteCommand(t *testing.T) {
	dev := newFakeBTDevice("AA", "Vee_1", -40)
	manager := newFakeBTManager(dev)
	tr := NewBLETransport(manager, fastBLEConfig(), nil, testLogger())
	assert.ErrorIs(t, tr.WriteCommand(protocol.EncodeInit()), ErrNotConnected)

	found, err := tr.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background(), found))
	defer tr.Shutdown()

	frame, err := protocol.EncodeProgramParams(protocol.ProgramParams{Type: protocol.Program{Mode: protocol.TUT}, Reps: 5, WeightPerCableKg: 10})
	require.NoError(t, err)
	require.NoError(t, tr.WriteCommand(frame))
	assert.ErrorIs(t, tr.WriteCommand(make([]byte, 97)), ErrCommandTooLarge)

	dev.mu.Lock()
	defer dev.mu.Unlock()
	require.Len(t, dev.writes, 1)
	assert.Len(t, dev.writes[0], protocol.ProgramParamsFrameSize)
}

func TestBLETransport_MonitorPollingFollowsSubscribers(t *testing.T) {
	dev := newFakeBTDevice("AA", "Vee_1", -40)
	dev.readData[MonitorCharacteristicUUID] = protocol.EncodeMonitorFrame(protocol.MonitorMetric{PositionA: 42})
	tr, _ := connectBLE(t, dev, nil)

	var mu sync.Mutex
	got := 0
	unsubscribe, err := tr.SubscribeMonitor(func(buf []byte) {
		m, err := protocol.DecodeMonitorFrame(buf)
		if err == nil && m.PositionA == 42 {
			mu.Lock()
			got++
			mu.Unlock()
		}
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got >= 3
	}, time.Second, time.Millisecond)

	unsubscribe()
	assert.False(t, tr.isPolling(pollMonitor))
}

func TestBLETransport_RepNotificationsAreCopied(t *testing.T) {
	dev := newFakeBTDevice("AA", "Vee_1", -40)
	tr, _ := connectBLE(t, dev, nil)

	var frames [][]byte
	_, err := tr.SubscribeRepNotifications(func(buf []byte) { frames = append(frames, buf) })
	require.NoError(t, err)

	buf := protocol.EncodeRepFrame(protocol.RepNotification{TopCounter: 1, CompleteCounter: 1})
	dev.fireNotification(RepCharacteristicUUID, buf)
	buf[0] = 0xEE
	require.Len(t, frames, 1)
	assert.Equal(t, byte(1), frames[0][0])
}

func TestBLETransport_LinkDropStopsPollingAndReports(t *testing.T) {
	dev := newFakeBTDevice("AA", "Vee_1", -40)
	tr, manager := connectBLE(t, dev, nil)

	var states []ConnectionState
	var mu sync.Mutex
	tr.ListenToConnectionState(func(s ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	dev.setConnected(false)
	manager.changes.Notify(bt.ConnectionChange{Address: "OTHER", Connected: false})
	assert.Equal(t, Connected, tr.State(), "other devices are ignored")

	manager.changes.Notify(bt.ConnectionChange{Address: "AA", Connected: false})
	assert.Equal(t, Disconnected, tr.State())
	assert.False(t, tr.isPolling(pollKeepAlive))
	assert.ErrorIs(t, tr.WriteCommand(protocol.EncodeInit()), ErrNotConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ConnectionState{Disconnected}, states)
}

func TestBLETransport_RepSubscriptionFailureFailsConnect(t *testing.T) {
	dev := newFakeBTDevice("AA", "Vee_1", -40)
	dev.notifyErr = errors.New("characteristic not found")
	manager := newFakeBTManager(dev)
	tr := NewBLETransport(manager, fastBLEConfig(), nil, testLogger())

	found, err := tr.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Error(t, tr.Connect(context.Background(), found))
	assert.Equal(t, Error, tr.State())
	assert.False(t, dev.IsConnected())
}
