// Package config loads the machine description used by the simulator and
// the host tools.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"

	"gotick/protocol"
)

// MachineConfig describes a simulated machine: its cores and clock, the
// alarm peripherals, and the workload of timers and cross-core signals.
type MachineConfig struct {
	Name       string         `json:"name" yaml:"name"`
	Cores      int            `json:"cores" yaml:"cores"`
	TickHz     uint32         `json:"tick_hz" yaml:"tick_hz"`
	StartTick  uint32         `json:"start_tick" yaml:"start_tick"`
	Alarms     int            `json:"alarms" yaml:"alarms"`
	Divider    uint32         `json:"divider" yaml:"divider"`
	QueueDepth int            `json:"queue_depth" yaml:"queue_depth"`
	Dispatch   string         `json:"dispatch" yaml:"dispatch"` // "task" or "isr"
	Timers     []TimerConfig  `json:"timers" yaml:"timers"`
	Legacy     []LegacyConfig `json:"legacy" yaml:"legacy"`
	Signals    []SignalConfig `json:"signals" yaml:"signals"`
	Report     ReportConfig   `json:"report" yaml:"report"`
}

// TimerConfig is one software timer on the timer service
type TimerConfig struct {
	Name     string `json:"name" yaml:"name"`
	PeriodUS uint32 `json:"period_us" yaml:"period_us"`
	OneShot  bool   `json:"one_shot" yaml:"one_shot"`
}

// LegacyConfig is one handle driven through the legacy timer API
type LegacyConfig struct {
	Name   string `json:"name" yaml:"name"`
	MS     uint32 `json:"ms" yaml:"ms"`
	Repeat bool   `json:"repeat" yaml:"repeat"`
}

// SignalConfig sends a cross-core reason periodically
type SignalConfig struct {
	From    uint8  `json:"from" yaml:"from"`
	To      uint8  `json:"to" yaml:"to"`
	Reason  string `json:"reason" yaml:"reason"` // yield, freq_switch, print_backtrace
	EveryMS uint32 `json:"every_ms" yaml:"every_ms"`
}

// ReportConfig controls the diagnostic report stream
type ReportConfig struct {
	IntervalMS uint32 `json:"interval_ms" yaml:"interval_ms"`
	Events     bool   `json:"events" yaml:"events"`
}

// Dispatch methods
const (
	DispatchTask = "task"
	DispatchISR  = "isr"
)

// Signal reasons
const (
	ReasonYield          = "yield"
	ReasonFreqSwitch     = "freq_switch"
	ReasonPrintBacktrace = "print_backtrace"
)

// Load reads a configuration file, YAML for .yaml/.yml and JSON otherwise
func Load(path string) (*MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "read config")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(data)
	default:
		return LoadConfig(data)
	}
}

// LoadConfig parses a JSON configuration
func LoadConfig(jsonData []byte) (*MachineConfig, error) {
	var config MachineConfig
	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, errors.Annotate(err, "parse json config")
	}
	return finish(&config)
}

// LoadYAML parses a YAML configuration
func LoadYAML(yamlData []byte) (*MachineConfig, error) {
	var config MachineConfig
	if err := yaml.UnmarshalStrict(yamlData, &config); err != nil {
		return nil, errors.Annotate(err, "parse yaml config")
	}
	return finish(&config)
}

func finish(config *MachineConfig) (*MachineConfig, error) {
	applyDefaults(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *MachineConfig) {
	if config.Name == "" {
		config.Name = "gotick"
	}
	if config.Cores == 0 {
		config.Cores = 2
	}
	if config.TickHz == 0 {
		config.TickHz = 1000000
	}
	if config.Divider == 0 {
		config.Divider = 1
	}
	if config.QueueDepth == 0 {
		config.QueueDepth = 16
	}
	if config.Dispatch == "" {
		config.Dispatch = DispatchTask
	}
	if config.Alarms == 0 {
		// one for the timer service plus one per legacy handle
		config.Alarms = 1 + len(config.Legacy)
	}
	if config.Report.IntervalMS == 0 {
		config.Report.IntervalMS = 1000
	}

	for i := range config.Timers {
		if config.Timers[i].Name == "" {
			config.Timers[i].Name = "timer" + strconv.Itoa(i)
		}
	}
	for i := range config.Legacy {
		if config.Legacy[i].Name == "" {
			config.Legacy[i].Name = "legacy" + strconv.Itoa(i)
		}
	}
	for i := range config.Signals {
		if config.Signals[i].Reason == "" {
			config.Signals[i].Reason = ReasonYield
		}
	}
}

// Validate checks ranges and cross references
func (c *MachineConfig) Validate() error {
	if c.Cores < 1 || c.Cores > 8 {
		return errors.NotValidf("cores %d", c.Cores)
	}
	if c.Dispatch != DispatchTask && c.Dispatch != DispatchISR {
		return errors.NotValidf("dispatch %q", c.Dispatch)
	}
	if c.Alarms < 1+len(c.Legacy) {
		return errors.NotValidf("%d alarms for a timer service and %d legacy handles", c.Alarms, len(c.Legacy))
	}
	if c.Alarms > 255 {
		return errors.NotValidf("alarms %d", c.Alarms)
	}
	for _, t := range c.Timers {
		if t.PeriodUS == 0 {
			return errors.NotValidf("timer %q with zero period", t.Name)
		}
		if len(t.Name) > protocol.MaxNameLen {
			return errors.NotValidf("timer name %q longer than %d bytes", t.Name, protocol.MaxNameLen)
		}
	}
	for _, l := range c.Legacy {
		if len(l.Name) > protocol.MaxNameLen {
			return errors.NotValidf("legacy name %q longer than %d bytes", l.Name, protocol.MaxNameLen)
		}
		if l.Repeat && l.MS == 0 {
			return errors.NotValidf("repeating legacy timer %q with zero period", l.Name)
		}
	}
	for i, s := range c.Signals {
		if int(s.From) >= c.Cores || int(s.To) >= c.Cores {
			return errors.NotValidf("signal %d between cores %d and %d", i, s.From, s.To)
		}
		switch s.Reason {
		case ReasonYield, ReasonFreqSwitch, ReasonPrintBacktrace:
		default:
			return errors.NotValidf("signal %d reason %q", i, s.Reason)
		}
		if s.EveryMS == 0 {
			return errors.NotValidf("signal %d with zero interval", i)
		}
	}
	return nil
}

// DefaultConfig returns a dual-core machine with a small mixed workload
func DefaultConfig() *MachineConfig {
	config := &MachineConfig{
		Name: "rp2040-sim",
		Timers: []TimerConfig{
			{Name: "heartbeat", PeriodUS: 500000},
			{Name: "sensor-poll", PeriodUS: 10000},
			{Name: "watchdog-kick", PeriodUS: 100000},
		},
		Legacy: []LegacyConfig{
			{Name: "blink", MS: 250, Repeat: true},
		},
		Signals: []SignalConfig{
			{From: 0, To: 1, Reason: ReasonYield, EveryMS: 20},
			{From: 1, To: 0, Reason: ReasonYield, EveryMS: 50},
			{From: 0, To: 1, Reason: ReasonFreqSwitch, EveryMS: 1000},
		},
		Report: ReportConfig{Events: true},
	}
	applyDefaults(config)
	return config
}
