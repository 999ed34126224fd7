// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func buildDemoTraceClass(t *testing.T) (*TraceClass, *StreamClass, *EventClass) {
	t.Helper()
	tc := NewTraceClass(nil)
	if err := tc.SetNativeByteOrder(LittleEndian); err != nil {
		t.Fatalf("SetNativeByteOrder() failed, reason: %v", err)
	}

	sc := NewStreamClass("default")
	clock, err := NewClockClass("monotonic", 1_000_000_000)
	if err != nil {
		t.Fatalf("NewClockClass() failed, reason: %v", err)
	}
	if err := sc.SetDefaultClockClass(clock); err != nil {
		t.Fatalf("SetDefaultClockClass() failed, reason: %v", err)
	}
	if err := sc.SetPacketsHaveDefaultBeginClockValue(true); err != nil {
		t.Fatalf("SetPacketsHaveDefaultBeginClockValue() failed, reason: %v", err)
	}
	if err := sc.SetPacketsHaveDefaultEndClockValue(true); err != nil {
		t.Fatalf("SetPacketsHaveDefaultEndClockValue() failed, reason: %v", err)
	}

	pc, err := NewStructureFC(8)
	if err != nil {
		t.Fatalf("NewStructureFC() failed, reason: %v", err)
	}
	for _, name := range []string{"content_size", "packet_size", "timestamp_begin", "timestamp_end"} {
		f, _ := NewIntegerFC(64, false, LittleEndian, 8, Base10)
		if err := pc.AppendMember(name, f); err != nil {
			t.Fatalf("AppendMember(%s) failed, reason: %v", name, err)
		}
	}
	if err := sc.SetPacketContextFC(pc); err != nil {
		t.Fatalf("SetPacketContextFC() failed, reason: %v", err)
	}

	header, err := NewStructureFC(8)
	if err != nil {
		t.Fatalf("NewStructureFC() failed, reason: %v", err)
	}
	id, _ := NewIntegerFC(16, false, LittleEndian, 8, Base10)
	if err := header.AppendMember("id", id); err != nil {
		t.Fatalf("AppendMember() failed, reason: %v", err)
	}
	ts, _ := NewIntegerFC(64, false, LittleEndian, 8, Base10)
	if err := header.AppendMember("timestamp", ts); err != nil {
		t.Fatalf("AppendMember() failed, reason: %v", err)
	}
	if err := sc.SetEventHeaderFC(header); err != nil {
		t.Fatalf("SetEventHeaderFC() failed, reason: %v", err)
	}

	if err := tc.AddStreamClass(sc); err != nil {
		t.Fatalf("AddStreamClass() failed, reason: %v", err)
	}

	ec := NewEventClass("hello")
	payload, err := NewStructureFC(8)
	if err != nil {
		t.Fatalf("NewStructureFC() failed, reason: %v", err)
	}
	counter, _ := NewIntegerFC(32, false, LittleEndian, 8, Base10)
	if err := payload.AppendMember("counter", counter); err != nil {
		t.Fatalf("AppendMember() failed, reason: %v", err)
	}
	if err := ec.SetPayloadFC(payload); err != nil {
		t.Fatalf("SetPayloadFC() failed, reason: %v", err)
	}
	if err := sc.AddEventClass(ec); err != nil {
		t.Fatalf("AddEventClass() failed, reason: %v", err)
	}
	return tc, sc, ec
}

func TestStreamWriteClosePacketProducesNonEmptyFile(t *testing.T) {
	tc, sc, ec := buildDemoTraceClass(t)

	dir := t.TempDir()
	trace, err := tc.CreateTrace(filepath.Join(dir, "trace"))
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}

	stream, err := trace.CreateStream(sc, nil)
	if err != nil {
		t.Fatalf("CreateStream() failed, reason: %v", err)
	}

	if err := stream.OpenPacket(); err != nil {
		t.Fatalf("OpenPacket() failed, reason: %v", err)
	}
	for i := 0; i < 8; i++ {
		err := stream.AppendEvent(ec, func(h *EventFields) error {
			if pl := h.BorrowPayload(); pl != nil {
				if c, ok := pl.StructureFieldByName("counter"); ok {
					_ = c.SetUint(uint64(i))
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("AppendEvent() failed, reason: %v", err)
		}
	}
	if err := stream.ClosePacket(); err != nil {
		t.Fatalf("ClosePacket() failed, reason: %v", err)
	}
	if err := stream.Flush(); err != nil {
		t.Fatalf("Flush() failed, reason: %v", err)
	}

	streamPath := filepath.Join(dir, "trace", "default_0")
	info, err := os.Stat(streamPath)
	if err != nil {
		t.Fatalf("stream file not created: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("stream file is empty, want serialized packet bytes")
	}
}

func TestStreamAppendEventRejectsWrongEventClass(t *testing.T) {
	tc, sc, _ := buildDemoTraceClass(t)
	dir := t.TempDir()
	trace, err := tc.CreateTrace(dir)
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	stream, err := trace.CreateStream(sc, nil)
	if err != nil {
		t.Fatalf("CreateStream() failed, reason: %v", err)
	}
	if err := stream.OpenPacket(); err != nil {
		t.Fatalf("OpenPacket() failed, reason: %v", err)
	}
	defer stream.Flush()

	other := NewEventClass("other")
	if err := stream.AppendEvent(other, nil); err != ErrTypeMismatch {
		t.Fatalf("AppendEvent() with unattached event class err = %v, want %v", err, ErrTypeMismatch)
	}
}

func TestStreamAppendEventRejectsWhenNoPacketOpen(t *testing.T) {
	tc, sc, ec := buildDemoTraceClass(t)
	dir := t.TempDir()
	trace, err := tc.CreateTrace(dir)
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	stream, err := trace.CreateStream(sc, nil)
	if err != nil {
		t.Fatalf("CreateStream() failed, reason: %v", err)
	}
	if err := stream.AppendEvent(ec, nil); err != ErrNoOpenPacket {
		t.Fatalf("AppendEvent() without open packet err = %v, want %v", err, ErrNoOpenPacket)
	}
}

// TestStreamAppendEventSerializesSelectedVariantOption exercises
// scenario E3: serializing an event whose variant field selects option
// B must write exactly B's bytes, never A's, at the tag value chosen.
func TestStreamAppendEventSerializesSelectedVariantOption(t *testing.T) {
	tc, sc, ec := buildVariantTraceClass(t)
	dir := t.TempDir()
	trace, err := tc.CreateTrace(dir)
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	stream, err := trace.CreateStream(sc, nil)
	if err != nil {
		t.Fatalf("CreateStream() failed, reason: %v", err)
	}
	if err := stream.OpenPacket(); err != nil {
		t.Fatalf("OpenPacket() failed, reason: %v", err)
	}

	err = stream.AppendEvent(ec, func(h *EventFields) error {
		pl := h.BorrowPayload()
		tag, ok := pl.StructureFieldByName("tag_t")
		if !ok {
			t.Fatalf("StructureFieldByName(tag_t) not found")
		}
		if err := tag.SetUint(1); err != nil {
			return err
		}
		v, ok := pl.StructureFieldByName("v")
		if !ok {
			t.Fatalf("StructureFieldByName(v) not found")
		}
		if err := v.SelectVariantByLabel("B"); err != nil {
			return err
		}
		selected, label, err := v.SelectedVariantField()
		if err != nil {
			return err
		}
		if label != "B" {
			t.Fatalf("SelectedVariantField() label = %q, want %q", label, "B")
		}
		return selected.SetString("x")
	})
	if err != nil {
		t.Fatalf("AppendEvent() failed, reason: %v", err)
	}
	if err := stream.ClosePacket(); err != nil {
		t.Fatalf("ClosePacket() failed, reason: %v", err)
	}
	if err := stream.Flush(); err != nil {
		t.Fatalf("Flush() failed, reason: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "default_0"))
	if err != nil {
		t.Fatalf("reading stream file failed, reason: %v", err)
	}
	const packetHeaderBytes = 24 // magic(4) + uuid(16) + stream_id(4), no packet context
	if len(raw) < packetHeaderBytes+6 {
		t.Fatalf("stream file too short: %d bytes", len(raw))
	}
	got := raw[packetHeaderBytes : packetHeaderBytes+6]

	wantHex, err := os.ReadFile(filepath.Join("testdata", "e3_event.hex"))
	if err != nil {
		t.Fatalf("reading golden file failed, reason: %v", err)
	}
	want, err := hex.DecodeString(strings.Join(strings.Fields(string(wantHex)), ""))
	if err != nil {
		t.Fatalf("decoding golden hex failed, reason: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("event bytes = % x, want % x", got, want)
	}
}

// TestStreamOpenPacketWritesStandardHeader exercises scenario E1: a
// trace with no packet context and no events still writes a correctly
// formed standard packet header as its first bytes.
func TestStreamOpenPacketWritesStandardHeader(t *testing.T) {
	tc := NewTraceClass(nil)
	if err := tc.SetNativeByteOrder(LittleEndian); err != nil {
		t.Fatalf("SetNativeByteOrder() failed, reason: %v", err)
	}
	if err := tc.SetUUID(uuid.Nil); err != nil {
		t.Fatalf("SetUUID() failed, reason: %v", err)
	}
	sc := NewStreamClass("default")
	if err := tc.AddStreamClass(sc); err != nil {
		t.Fatalf("AddStreamClass() failed, reason: %v", err)
	}

	dir := t.TempDir()
	trace, err := tc.CreateTrace(dir)
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	stream, err := trace.CreateStream(sc, nil)
	if err != nil {
		t.Fatalf("CreateStream() failed, reason: %v", err)
	}
	if err := stream.OpenPacket(); err != nil {
		t.Fatalf("OpenPacket() failed, reason: %v", err)
	}
	if err := stream.Flush(); err != nil {
		t.Fatalf("Flush() failed, reason: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "default_0"))
	if err != nil {
		t.Fatalf("reading stream file failed, reason: %v", err)
	}
	if len(raw) < 24 {
		t.Fatalf("stream file too short: %d bytes", len(raw))
	}
	want := []byte{0xC1, 0xFC, 0x1F, 0xC1}
	want = append(want, make([]byte, 16)...) // uuid.Nil
	want = append(want, 0x00, 0x00, 0x00, 0x00)
	if string(raw[:24]) != string(want) {
		t.Fatalf("packet header = % x, want % x", raw[:24], want)
	}
}

// TestStreamAppendEventDynamicArrayLength exercises scenario E2: a
// dynamic array's declared length must agree with the number of
// elements written, in both directions.
func TestStreamAppendEventDynamicArrayLength(t *testing.T) {
	tc := NewTraceClass(nil)
	if err := tc.SetNativeByteOrder(LittleEndian); err != nil {
		t.Fatalf("SetNativeByteOrder() failed, reason: %v", err)
	}
	sc := NewStreamClass("default")
	if err := tc.AddStreamClass(sc); err != nil {
		t.Fatalf("AddStreamClass() failed, reason: %v", err)
	}

	ec := NewEventClass("chunk")
	payload, err := NewStructureFC(8)
	if err != nil {
		t.Fatalf("NewStructureFC() failed, reason: %v", err)
	}
	n, _ := NewIntegerFC(32, false, LittleEndian, 8, Base10)
	if err := payload.AppendMember("n", n); err != nil {
		t.Fatalf("AppendMember(n) failed, reason: %v", err)
	}
	elem, _ := NewIntegerFC(8, false, LittleEndian, 8, Base10)
	data, err := NewDynamicArrayFC(elem, "n")
	if err != nil {
		t.Fatalf("NewDynamicArrayFC() failed, reason: %v", err)
	}
	if err := payload.AppendMember("data", data); err != nil {
		t.Fatalf("AppendMember(data) failed, reason: %v", err)
	}
	if err := ec.SetPayloadFC(payload); err != nil {
		t.Fatalf("SetPayloadFC() failed, reason: %v", err)
	}
	if err := sc.AddEventClass(ec); err != nil {
		t.Fatalf("AddEventClass() failed, reason: %v", err)
	}

	dir := t.TempDir()
	trace, err := tc.CreateTrace(dir)
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	stream, err := trace.CreateStream(sc, nil)
	if err != nil {
		t.Fatalf("CreateStream() failed, reason: %v", err)
	}
	if err := stream.OpenPacket(); err != nil {
		t.Fatalf("OpenPacket() failed, reason: %v", err)
	}

	fill := func(count int, bytes []byte) func(h *EventFields) error {
		return func(h *EventFields) error {
			pl := h.BorrowPayload()
			nf, _ := pl.StructureFieldByName("n")
			if err := nf.SetUint(uint64(count)); err != nil {
				return err
			}
			df, _ := pl.StructureFieldByName("data")
			if err := df.SetDynamicArrayLength(uint64(len(bytes))); err != nil {
				return err
			}
			for i, b := range bytes {
				if err := df.DynamicArrayElement(i).SetUint(uint64(b)); err != nil {
					return err
				}
			}
			return nil
		}
	}

	if err := stream.AppendEvent(ec, fill(3, []byte{0xAA, 0xBB, 0xCC})); err != nil {
		t.Fatalf("AppendEvent() with agreeing length failed, reason: %v", err)
	}
	if err := stream.AppendEvent(ec, fill(3, []byte{0xAA})); err != ErrLengthMismatch {
		t.Fatalf("AppendEvent() with mismatched length err = %v, want %v", err, ErrLengthMismatch)
	}

	if err := stream.ClosePacket(); err != nil {
		t.Fatalf("ClosePacket() failed, reason: %v", err)
	}
	if err := stream.Flush(); err != nil {
		t.Fatalf("Flush() failed, reason: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "default_0"))
	if err != nil {
		t.Fatalf("reading stream file failed, reason: %v", err)
	}
	const packetHeaderBytes = 24
	want := []byte{0x03, 0x00, 0x00, 0x00, 0xAA, 0xBB, 0xCC}
	if len(raw) < packetHeaderBytes+len(want) {
		t.Fatalf("stream file too short: %d bytes", len(raw))
	}
	got := raw[packetHeaderBytes : packetHeaderBytes+len(want)]
	if string(got) != string(want) {
		t.Fatalf("event bytes = % x, want % x (rejected append must not have written anything)", got, want)
	}
}

// TestStreamClosePacketSnapsTimestamps exercises scenario E4: when a
// stream class requests default begin/end clock values, ClosePacket
// snaps the packet context's timestamps to the first and last event's
// clock value seen in the packet.
func TestStreamClosePacketSnapsTimestamps(t *testing.T) {
	tc, sc, ec := buildDemoTraceClass(t)
	dir := t.TempDir()
	trace, err := tc.CreateTrace(dir)
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	stream, err := trace.CreateStream(sc, nil)
	if err != nil {
		t.Fatalf("CreateStream() failed, reason: %v", err)
	}
	if err := stream.OpenPacket(); err != nil {
		t.Fatalf("OpenPacket() failed, reason: %v", err)
	}

	setTimestamp := func(ns uint64) func(h *EventFields) error {
		return func(h *EventFields) error {
			ts, ok := h.BorrowHeader().StructureFieldByName("timestamp")
			if !ok {
				t.Fatalf("StructureFieldByName(timestamp) not found")
			}
			return ts.SetUint(ns)
		}
	}
	if err := stream.AppendEvent(ec, setTimestamp(1000)); err != nil {
		t.Fatalf("AppendEvent() failed, reason: %v", err)
	}
	if err := stream.AppendEvent(ec, setTimestamp(2500)); err != nil {
		t.Fatalf("AppendEvent() failed, reason: %v", err)
	}

	pc := stream.BorrowPacketContext()
	if err := stream.ClosePacket(); err != nil {
		t.Fatalf("ClosePacket() failed, reason: %v", err)
	}
	begin, _ := pc.StructureFieldByName("timestamp_begin")
	end, _ := pc.StructureFieldByName("timestamp_end")
	if begin.Uint() != 1000 {
		t.Fatalf("timestamp_begin = %d, want 1000", begin.Uint())
	}
	if end.Uint() != 2500 {
		t.Fatalf("timestamp_end = %d, want 2500", end.Uint())
	}
	if err := stream.Flush(); err != nil {
		t.Fatalf("Flush() failed, reason: %v", err)
	}
}

// TestStreamAppendEventTooLargeDiscardsAndContinues exercises scenario
// E5: an event that cannot fit even after growing the packet to its
// configured maximum is rejected with ErrEventTooLarge, counted as
// discarded, and the stream accepts a smaller event in the next
// packet.
func TestStreamAppendEventTooLargeDiscardsAndContinues(t *testing.T) {
	tc := NewTraceClass(nil)
	if err := tc.SetNativeByteOrder(LittleEndian); err != nil {
		t.Fatalf("SetNativeByteOrder() failed, reason: %v", err)
	}
	sc := NewStreamClass("default")
	if err := sc.SetMaxPacketBits(4096); err != nil {
		t.Fatalf("SetMaxPacketBits() failed, reason: %v", err)
	}
	if err := tc.AddStreamClass(sc); err != nil {
		t.Fatalf("AddStreamClass() failed, reason: %v", err)
	}

	ec := NewEventClass("blob")
	payload, err := NewStructureFC(8)
	if err != nil {
		t.Fatalf("NewStructureFC() failed, reason: %v", err)
	}
	strFC := NewStringFC(EncodingUTF8)
	if err := payload.AppendMember("s", strFC); err != nil {
		t.Fatalf("AppendMember(s) failed, reason: %v", err)
	}
	if err := ec.SetPayloadFC(payload); err != nil {
		t.Fatalf("SetPayloadFC() failed, reason: %v", err)
	}
	if err := sc.AddEventClass(ec); err != nil {
		t.Fatalf("AddEventClass() failed, reason: %v", err)
	}

	dir := t.TempDir()
	trace, err := tc.CreateTrace(dir)
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	stream, err := trace.CreateStream(sc, nil)
	if err != nil {
		t.Fatalf("CreateStream() failed, reason: %v", err)
	}

	setString := func(v string) func(h *EventFields) error {
		return func(h *EventFields) error {
			f, ok := h.BorrowPayload().StructureFieldByName("s")
			if !ok {
				t.Fatalf("StructureFieldByName(s) not found")
			}
			return f.SetString(v)
		}
	}

	if err := stream.OpenPacket(); err != nil {
		t.Fatalf("OpenPacket() failed, reason: %v", err)
	}
	oversized := strings.Repeat("A", 5000)
	if err := stream.AppendEvent(ec, setString(oversized)); err != ErrEventTooLarge {
		t.Fatalf("AppendEvent() with oversized payload err = %v, want %v", err, ErrEventTooLarge)
	}
	if stream.discardedEvents != 1 {
		t.Fatalf("discardedEvents = %d, want 1", stream.discardedEvents)
	}
	if err := stream.ClosePacket(); err != nil {
		t.Fatalf("ClosePacket() after discard failed, reason: %v", err)
	}

	if err := stream.OpenPacket(); err != nil {
		t.Fatalf("OpenPacket() for next packet failed, reason: %v", err)
	}
	if err := stream.AppendEvent(ec, setString("ok")); err != nil {
		t.Fatalf("AppendEvent() with small payload failed, reason: %v", err)
	}
	if err := stream.Flush(); err != nil {
		t.Fatalf("Flush() failed, reason: %v", err)
	}
}

func TestTraceMarkStaticRejectsNewStreams(t *testing.T) {
	tc, sc, _ := buildDemoTraceClass(t)
	dir := t.TempDir()
	trace, err := tc.CreateTrace(dir)
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	trace.MarkStatic()
	if _, err := trace.CreateStream(sc, nil); err != ErrTraceStatic {
		t.Fatalf("CreateStream() after MarkStatic() err = %v, want %v", err, ErrTraceStatic)
	}
}
