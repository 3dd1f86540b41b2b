package transport

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

type preferredDeviceData struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// PreferredDeviceStore remembers the last trainer connected to, so a scan
// that sees several trainers picks the familiar one.
type PreferredDeviceStore struct {
	mu       sync.Mutex
	filePath string
	data     preferredDeviceData
	logger   *log.Logger
}

// DefaultPreferredDevicePath is ~/.vitruvian-trainer/device.json.
func DefaultPreferredDevicePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".vitruvian-trainer", "device.json")
}

func NewPreferredDeviceStore(filePath string, logger *log.Logger) *PreferredDeviceStore {
	if logger == nil {
		panic("PreferredDeviceStore: logger cannot be nil")
	}
	if filePath == "" {
		filePath = DefaultPreferredDevicePath()
	}
	p := &PreferredDeviceStore{filePath: filePath, logger: logger}
	p.load()
	return p
}

// Address returns the remembered address, or "" if there is none.
func (p *PreferredDeviceStore) Address() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Address
}

func (p *PreferredDeviceStore) Set(device Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data.Address == device.Address && p.data.Name == device.Name {
		return
	}
	p.data = preferredDeviceData{Address: device.Address, Name: device.Name}
	p.save()
}

func (p *PreferredDeviceStore) load() {
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("PreferredDeviceStore: load %s (no existing file)", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("PreferredDeviceStore: load %s failed to parse: %v", p.filePath, err)
		p.data = preferredDeviceData{}
		return
	}
	p.logger.Printf("PreferredDeviceStore: load %s -> %q", p.filePath, p.data.Address)
}

func (p *PreferredDeviceStore) save() {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0755); err != nil {
		p.logger.Printf("PreferredDeviceStore: save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("PreferredDeviceStore: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0644); err != nil {
		p.logger.Printf("PreferredDeviceStore: save %s failed: %v", p.filePath, err)
		return
	}
	p.logger.Printf("PreferredDeviceStore: save %s -> %q", p.filePath, p.data.Address)
}
