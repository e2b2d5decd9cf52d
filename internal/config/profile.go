package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/igel-oss/rcar-du-vdrm/internal/hardware"
)

// Defaults for fields missing from a profile.
const (
	DefaultModel     = "r8a7790"
	DefaultMMIOBase  = 0xfeb00000
	DefaultMMIOSize  = 0x40000
	DefaultUIO       = "/dev/uio0"
	DefaultClockRate = 148500000 // Hz
)

// MMIO is the physical register window of the DU.
type MMIO struct {
	Base uint64 `yaml:"base"`
	Size int    `yaml:"size"`
}

// Profile describes the board: which SoC, where its registers live, the
// rates of its clocks and what is connected to its outputs.
//
// Clock names are "du" for the single functional clock of the first
// generation, "du.N" for the per-CRTC clocks and "dclkin.N" for the
// optional external dot clocks. A rate of 0 declares a clock that exists
// but is not ready yet.
type Profile struct {
	Model   string            `yaml:"model"`
	MMIO    MMIO              `yaml:"mmio"`
	Clocks  map[string]uint64 `yaml:"clocks"`
	Outputs []string          `yaml:"outputs"`
	UIO     string            `yaml:"uio"`
}

// DefaultProfile returns the profile of an R8A7790 with every output
// connected.
func DefaultProfile() *Profile {
	p := &Profile{}
	if err := p.normalize(); err != nil {
		panic(err)
	}
	return p
}

// DefaultProfileFor returns the default profile of a SoC model, every
// output it can route connected.
func DefaultProfileFor(model string) (*Profile, error) {
	p := &Profile{Model: model}
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadProfile reads a YAML profile. A missing file yields DefaultProfile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("config: no device profile, using defaults", "path", path, "model", DefaultModel)
			return DefaultProfile(), nil
		}
		return nil, err
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return p, nil
}

// ParseProfile decodes and normalizes a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.normalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// clockName maps a profile clock name to the name the device asks for.
func clockName(name string) string {
	if name == "du" {
		return ""
	}
	return name
}

func (p *Profile) normalize() error {
	p.Model = strings.ToLower(strings.TrimSpace(p.Model))
	if p.Model == "" {
		p.Model = DefaultModel
	}
	info, err := hardware.LookupInfo(p.Model)
	if err != nil {
		return err
	}
	if p.MMIO.Base == 0 {
		p.MMIO.Base = DefaultMMIOBase
	}
	if p.MMIO.Size == 0 {
		p.MMIO.Size = DefaultMMIOSize
	}
	if p.UIO == "" {
		p.UIO = DefaultUIO
	}

	if len(p.Clocks) == 0 {
		p.Clocks = make(map[string]uint64)
		if info.Has(hardware.FeatureCRTCIRQClock) {
			for i := 0; i < info.NumCrtcs; i++ {
				p.Clocks[fmt.Sprintf("du.%d", i)] = DefaultClockRate
			}
		} else {
			p.Clocks["du"] = DefaultClockRate
		}
	}

	if len(p.Outputs) == 0 {
		for o := hardware.OutputDPAD0; o < hardware.OutputMax; o++ {
			if _, ok := info.Routes[o]; ok {
				p.Outputs = append(p.Outputs, o.String())
			}
		}
	}
	for i, name := range p.Outputs {
		o, err := hardware.ParseOutput(name)
		if err != nil {
			return err
		}
		p.Outputs[i] = o.String()
	}
	return nil
}

// Info returns the SoC description of the profile's model.
func (p *Profile) Info() (hardware.Info, error) {
	return hardware.LookupInfo(p.Model)
}

// ConnectedOutputs returns the outputs listed in the profile.
func (p *Profile) ConnectedOutputs() ([]hardware.Output, error) {
	out := make([]hardware.Output, 0, len(p.Outputs))
	for _, name := range p.Outputs {
		o, err := hardware.ParseOutput(name)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ClockSet builds fixed-rate clocks from the profile.
func (p *Profile) ClockSet() *hardware.ClockSet {
	set := hardware.NewClockSet()
	names := make([]string, 0, len(p.Clocks))
	for name := range p.Clocks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rate := p.Clocks[name]
		if rate == 0 {
			set.MarkPending(clockName(name))
			continue
		}
		set.Add(clockName(name), hardware.NewFixedClock(name, physic.Frequency(rate)*physic.Hertz))
	}
	return set
}
