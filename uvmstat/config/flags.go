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


package config

import (
	"flag"
	"fmt"
	"reflect"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// Logging flags.
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, json-k8s or logrus.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")

	// Machine flags.
	flagSet.String("machine", "", "path of a TOML or YAML machine description. If empty, a single segment of --pages pages is used.")
	flagSet.Int("pages", 4096, "number of physical pages of the default machine.")
	flagSet.Int("ncpu", 0, "number of CPUs. Zero uses the machine description, or GOMAXPROCS.")
	flagSet.Bool("backing-memory", false, "back physical frames with host memory.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags, and loads the machine description.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok || name == "-" {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if conf.MachineFile != "" {
		m, err := LoadMachine(conf.MachineFile)
		if err != nil {
			return nil, err
		}
		conf.Machine = m
	} else {
		conf.Machine = DefaultMachine(conf.Pages)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
