package device

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pbarone/meetingtranscribermacos/internal/audio"
	"gopkg.in/yaml.v3"
)

type Driver string

const (
	DriverPCM  Driver = "pcm"
	DriverOpus Driver = "opus"
)

type Entry struct {
	ID            string           `yaml:"id"`
	Name          string           `yaml:"name"`
	Kind          audio.DeviceKind `yaml:"kind"`
	Driver        Driver           `yaml:"driver"`
	Path          string           `yaml:"path"`
	SampleRate    int              `yaml:"sample_rate"`
	Channels      int              `yaml:"channels"`
	BitsPerSample int              `yaml:"bits_per_sample"`
}

type Manifest struct {
	Devices []Entry `yaml:"devices"`
}

func (e Entry) Handle() audio.DeviceHandle {
	return audio.DeviceHandle{ID: e.ID, Name: e.Name, Kind: e.Kind}
}

func (e Entry) Format() audio.Format {
	return audio.Format{SampleRateHz: e.SampleRate, BitsPerSample: e.BitsPerSample, Channels: e.Channels}
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse device manifest: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) normalize() error {
	seen := make(map[string]bool, len(m.Devices))
	for i := range m.Devices {
		e := &m.Devices[i]
		if e.ID == "" {
			return fmt.Errorf("device #%d: id is required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("device %s: duplicate id", e.ID)
		}
		seen[e.ID] = true
		if e.Name == "" {
			e.Name = e.ID
		}
		if e.Path == "" {
			return fmt.Errorf("device %s: path is required", e.ID)
		}
		e.Path = filepath.Clean(e.Path)
		switch e.Kind {
		case audio.DeviceKindInput, audio.DeviceKindOutput:
		default:
			return fmt.Errorf("device %s: kind must be input or output, got %q", e.ID, e.Kind)
		}
		switch e.Driver {
		case "":
			e.Driver = DriverPCM
		case DriverPCM:
		case DriverOpus:
			e.BitsPerSample = 16
		default:
			return fmt.Errorf("device %s: unknown driver %q", e.ID, e.Driver)
		}
		if e.BitsPerSample == 0 {
			e.BitsPerSample = 16
		}
		if err := e.Format().Validate(); err != nil {
			return fmt.Errorf("device %s: %w", e.ID, err)
		}
	}
	return nil
}
