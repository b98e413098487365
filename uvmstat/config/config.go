// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config provides basic infrastructure to set configuration settings
// for uvmstat. The configuration is set by flags to the command line, and
// the simulated machine is described by an optional TOML or YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
	"gvisor.dev/uvm/pkg/hostarch"
	"gvisor.dev/uvm/pkg/log"
	"gvisor.dev/uvm/pkg/meter"
	"gvisor.dev/uvm/pkg/uvm"
)

// Config holds configuration that is not part of the machine description.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name
//  3. Register a new flag in flags.go, with same name and add a description
//  4. Add any necessary validation into validate()
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// MachineFile is the path of the machine description. Empty means a
	// single segment of Pages pages.
	MachineFile string `flag:"machine"`

	// Pages is the machine size when no machine file is given.
	Pages int `flag:"pages"`

	// NCPU overrides the CPU count of the machine, if positive.
	NCPU int `flag:"ncpu"`

	// BackingMemory backs the machine's frames with host memory.
	BackingMemory bool `flag:"backing-memory"`

	// Machine is the machine description, loaded by NewFromFlags.
	Machine Machine `flag:"-"`
}

// Machine describes the simulated machine.
type Machine struct {
	UVM      uvm.Config     `toml:"uvm" yaml:"uvm" json:"uvm"`
	Tunables meter.Tunables `toml:"tunables" yaml:"tunables" json:"tunables"`
}

// machineBase is the physical address of the default machine's memory.
const machineBase = 0x100000

// DefaultMachine returns a machine with a single segment of npages pages.
func DefaultMachine(npages int) Machine {
	return Machine{
		UVM: uvm.Config{
			Segments: []uvm.SegmentConfig{{
				Start: machineBase,
				End:   machineBase + uint64(npages)*hostarch.PageSize,
			}},
		},
		Tunables: meter.DefaultTunables(),
	}
}

// LoadMachine reads a machine description. The format is chosen by the file
// extension: .toml, .yaml or .yml. Unset tunables keep their defaults.
func LoadMachine(path string) (Machine, error) {
	m := Machine{Tunables: meter.DefaultTunables()}
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &m); err != nil {
			return Machine{}, fmt.Errorf("error parsing %q: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Machine{}, err
		}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Machine{}, fmt.Errorf("error parsing %q: %w", path, err)
		}
	default:
		return Machine{}, fmt.Errorf("unknown machine file format %q, must be .toml, .yaml or .yml", ext)
	}
	return m, nil
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "json-k8s", "logrus":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.MachineFile == "" && c.Pages <= 0 {
		return fmt.Errorf("--pages must be positive, got %d", c.Pages)
	}
	if c.NCPU < 0 {
		return fmt.Errorf("--ncpu must not be negative, got %d", c.NCPU)
	}
	return c.Machine.Tunables.Validate()
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// UVMConfig returns the page manager configuration with command line
// overrides applied.
func (c *Config) UVMConfig() uvm.Config {
	cfg := c.Clone().Machine.UVM
	if c.NCPU > 0 {
		cfg.NCPU = c.NCPU
	}
	if c.BackingMemory {
		cfg.BackingMemory = true
	}
	return cfg
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name := f.Tag.Get("flag"); name != "" && name != "-" {
			log.Infof("\t%s: %v", name, obj.Field(i).Interface())
		}
	}
	for i, s := range c.Machine.UVM.Segments {
		log.Infof("\tsegment %d: [%#x, %#x) freelist %d", i, s.Start, s.End, s.Freelist)
	}
	log.Infof("\ttunables: %+v", c.Machine.Tunables)
}
