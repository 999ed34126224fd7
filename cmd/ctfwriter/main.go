// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	ctfir "github.com/saferwall/ctfir"
)

var (
	outDir      string
	presetPath  string
	clockFreqHz uint64
)

func main() {
	root := &cobra.Command{
		Use:   "ctfwriter",
		Short: "ctfwriter builds and writes Common Trace Format traces",
	}

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "write a minimal one-event-class demo trace to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			preset := defaultPreset()
			if presetPath != "" {
				p, err := loadPreset(presetPath)
				if err != nil {
					return fmt.Errorf("loading preset: %w", err)
				}
				preset = p
			}
			if clockFreqHz != 0 {
				preset.ClockFrequencyHz = clockFreqHz
			}
			if outDir == "" {
				return fmt.Errorf("--out is required")
			}
			return runDemo(outDir, preset)
		},
	}
	demoCmd.Flags().StringVar(&outDir, "out", "", "directory the trace is written into")
	demoCmd.Flags().StringVar(&presetPath, "config", "", "optional YAML preset file (see preset.go)")
	demoCmd.Flags().Uint64Var(&clockFreqHz, "clock-freq", 0, "override the preset's clock frequency, in Hz")

	root.AddCommand(demoCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDemo builds the minimal trace of the package's end-to-end demo
// scenario: one stream class carrying a single "hello" event class
// with a single uint32 payload field, writes one packet with a
// handful of events, and flushes the stream.
func runDemo(dir string, preset *Preset) error {
	tc := ctfir.NewTraceClass(nil)
	if err := tc.SetName(preset.TraceName); err != nil {
		return err
	}
	if err := tc.SetNativeByteOrder(ctfir.LittleEndian); err != nil {
		return err
	}
	if err := tc.AddEnvironmentString("domain", "ctfwriter-demo"); err != nil {
		return err
	}

	clock, err := ctfir.NewClockClass(preset.ClockName, preset.ClockFrequencyHz)
	if err != nil {
		return err
	}
	if err := clock.SetOriginIsUnixEpoch(true); err != nil {
		return err
	}

	sc := ctfir.NewStreamClass(preset.StreamName)
	if err := sc.SetDefaultClockClass(clock); err != nil {
		return err
	}
	if err := sc.SetPacketsHaveDefaultBeginClockValue(true); err != nil {
		return err
	}
	if err := sc.SetPacketsHaveDefaultEndClockValue(true); err != nil {
		return err
	}
	if err := sc.SetPacketsHaveDiscardedEventCounterSnapshot(true); err != nil {
		return err
	}

	packetContext, err := ctfir.NewStructureFC(8)
	if err != nil {
		return err
	}
	contentSize, _ := ctfir.NewIntegerFC(64, false, ctfir.LittleEndian, 8, ctfir.Base10)
	if err := packetContext.AppendMember("content_size", contentSize); err != nil {
		return err
	}
	packetSize, _ := ctfir.NewIntegerFC(64, false, ctfir.LittleEndian, 8, ctfir.Base10)
	if err := packetContext.AppendMember("packet_size", packetSize); err != nil {
		return err
	}
	tsBegin, _ := ctfir.NewIntegerFC(64, false, ctfir.LittleEndian, 8, ctfir.Base10)
	if err := packetContext.AppendMember("timestamp_begin", tsBegin); err != nil {
		return err
	}
	tsEnd, _ := ctfir.NewIntegerFC(64, false, ctfir.LittleEndian, 8, ctfir.Base10)
	if err := packetContext.AppendMember("timestamp_end", tsEnd); err != nil {
		return err
	}
	discarded, _ := ctfir.NewIntegerFC(64, false, ctfir.LittleEndian, 8, ctfir.Base10)
	if err := packetContext.AppendMember("events_discarded", discarded); err != nil {
		return err
	}
	if err := sc.SetPacketContextFC(packetContext); err != nil {
		return err
	}

	eventHeader, err := ctfir.NewStructureFC(8)
	if err != nil {
		return err
	}
	headerID, _ := ctfir.NewIntegerFC(16, false, ctfir.LittleEndian, 8, ctfir.Base10)
	if err := eventHeader.AppendMember("id", headerID); err != nil {
		return err
	}
	headerTS, _ := ctfir.NewIntegerFC(64, false, ctfir.LittleEndian, 8, ctfir.Base10)
	if err := eventHeader.AppendMember("timestamp", headerTS); err != nil {
		return err
	}
	if err := sc.SetEventHeaderFC(eventHeader); err != nil {
		return err
	}

	if err := tc.AddStreamClass(sc); err != nil {
		return err
	}

	ec := ctfir.NewEventClass(preset.EventName)
	payload, err := ctfir.NewStructureFC(8)
	if err != nil {
		return err
	}
	counter, _ := ctfir.NewIntegerFC(32, false, ctfir.LittleEndian, 8, ctfir.Base10)
	if err := payload.AppendMember("counter", counter); err != nil {
		return err
	}
	if err := ec.SetPayloadFC(payload); err != nil {
		return err
	}
	if err := sc.AddEventClass(ec); err != nil {
		return err
	}

	trace, err := tc.CreateTrace(dir)
	if err != nil {
		return err
	}

	stream, err := trace.CreateStream(sc, nil)
	if err != nil {
		return err
	}

	if err := stream.OpenPacket(); err != nil {
		return err
	}
	for i := uint32(0); i < preset.EventCount; i++ {
		cycles := uint64(i) * 1000
		ns, err := clock.CyclesToNsFromOrigin(cycles)
		if err != nil {
			return err
		}
		err = stream.AppendEvent(ec, func(h *ctfir.EventFields) error {
			if hdr := h.BorrowHeader(); hdr != nil {
				if ts, ok := hdr.StructureFieldByName("timestamp"); ok {
					_ = ts.SetInt(ns)
				}
			}
			if pl := h.BorrowPayload(); pl != nil {
				if c, ok := pl.StructureFieldByName("counter"); ok {
					_ = c.SetUint(uint64(i))
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if err := stream.ClosePacket(); err != nil {
		return err
	}
	return stream.Flush()
}
