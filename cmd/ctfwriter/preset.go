// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Preset configures the demo trace's naming and scale. It is the
// YAML shape accepted by --config.
type Preset struct {
	TraceName        string `yaml:"trace_name"`
	StreamName       string `yaml:"stream_name"`
	EventName        string `yaml:"event_name"`
	ClockName        string `yaml:"clock_name"`
	ClockFrequencyHz uint64 `yaml:"clock_frequency_hz"`
	EventCount       uint32 `yaml:"event_count"`
}

func defaultPreset() *Preset {
	return &Preset{
		TraceName:        "ctfwriter_demo",
		StreamName:       "default",
		EventName:        "hello",
		ClockName:        "monotonic",
		ClockFrequencyHz: 1_000_000_000,
		EventCount:       16,
	}
}

func loadPreset(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	preset := defaultPreset()
	if err := yaml.Unmarshal(data, preset); err != nil {
		return nil, err
	}
	return preset, nil
}
