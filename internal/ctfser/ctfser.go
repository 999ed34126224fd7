// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ctfser implements the bit-packed, memory-mapped packet
// serializer that underlies the CTF stream writer. It owns one
// growable, mmap-backed region per open packet and exposes a small
// set of bit-precise write primitives; everything above this layer
// (field classes, field instances, the packet state machine) only
// ever calls Align/WriteUint/WriteInt/WriteF32/WriteF64/WriteString.
package ctfser

import (
	"errors"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/saferwall/ctfir/log"
)

// ByteOrder selects the wire byte order for a write. There is no
// "native" value at this layer: callers resolve native order before
// reaching the serializer.
type ByteOrder int

// Supported byte orders.
const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// Errors
var (
	// ErrPacketTooLarge is returned when a write would grow the
	// current packet beyond its configured maximum size.
	ErrPacketTooLarge = errors.New("ctfser: packet would exceed max packet size")

	// ErrNoOpenPacket is returned when a write is attempted while no
	// packet is open.
	ErrNoOpenPacket = errors.New("ctfser: no packet is open")

	// ErrPacketAlreadyOpen is returned by OpenPacket when a packet is
	// already open and has not been closed.
	ErrPacketAlreadyOpen = errors.New("ctfser: a packet is already open")

	// ErrInvalidAlignment is returned when an alignment is not a
	// positive power of two.
	ErrInvalidAlignment = errors.New("ctfser: alignment must be a power of two greater than zero")

	// ErrInvalidWidth is returned when an integer width is outside 1..64.
	ErrInvalidWidth = errors.New("ctfser: integer width must be in 1..64 bits")
)

const defaultMaxPacketBits = 0 // unlimited

// Serializer appends bit-precise values to a packetized stream file
// backed by a growable memory mapping.
type Serializer struct {
	path string
	f    *os.File

	pageSize uint64

	// maxPacketBits is the stream-class configured upper bound on a
	// packet's bit length; 0 means unlimited.
	maxPacketBits uint64

	// streamSizeBytes is the cumulative byte length of every packet
	// that has been closed so far. The next packet starts here.
	streamSizeBytes uint64

	// packet-local state, valid only while a packet is open.
	packetOpen          bool
	data                mmap.MMap
	curPacketSizeBytes  uint64
	prevPacketSizeBytes uint64
	cursorBits          uint64

	logger *log.Helper
}

// Option configures a Serializer at construction time.
type Option func(*Serializer)

// WithMaxPacketBits sets the stream-class maximum packet size, in bits.
func WithMaxPacketBits(bits uint64) Option {
	return func(s *Serializer) { s.maxPacketBits = bits }
}

// WithLogger attaches a logger; the default logs errors to stderr.
func WithLogger(h *log.Helper) Option {
	return func(s *Serializer) { s.logger = h }
}

// Open creates or truncates the stream file at path and returns a
// Serializer with no packet open.
func Open(path string, opts ...Option) (*Serializer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	s := &Serializer{
		path:          path,
		f:             f,
		pageSize:      uint64(unix.Getpagesize()),
		maxPacketBits: defaultMaxPacketBits,
		logger:        log.DefaultHelper(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StreamSizeBytes returns the cumulative size, in bytes, of every
// packet closed so far.
func (s *Serializer) StreamSizeBytes() uint64 {
	return s.streamSizeBytes
}

// PrevPacketSizeBytes returns the byte size of the most recently
// closed packet.
func (s *Serializer) PrevPacketSizeBytes() uint64 {
	return s.prevPacketSizeBytes
}

// CursorBits returns the current bit offset within the open packet.
func (s *Serializer) CursorBits() uint64 {
	return s.cursorBits
}

// SetCursorBits rewinds or advances the cursor within the already
// written portion of the current packet, for back-patching fields
// such as content_size/packet_size. It never grows the packet.
func (s *Serializer) SetCursorBits(bits uint64) {
	s.cursorBits = bits
}

// OpenPacket starts a new packet right after the previous one (or at
// stream offset zero for the first packet) and maps an initial
// page-sized region for it.
func (s *Serializer) OpenPacket() error {
	if s.packetOpen {
		return ErrPacketAlreadyOpen
	}
	s.curPacketSizeBytes = 0
	s.cursorBits = 0
	s.packetOpen = true
	if err := s.mapPacket(s.pageSize); err != nil {
		s.packetOpen = false
		return err
	}
	return nil
}

// mapPacket (re)maps the open packet's region to size newSizeBytes,
// extending the backing file as needed.
func (s *Serializer) mapPacket(newSizeBytes uint64) error {
	if s.data != nil {
		if err := s.data.Unmap(); err != nil {
			return err
		}
		s.data = nil
	}
	if err := s.f.Truncate(int64(s.streamSizeBytes + newSizeBytes)); err != nil {
		return err
	}
	data, err := mmap.MapRegion(s.f, int(newSizeBytes), mmap.RDWR, 0, int64(s.streamSizeBytes))
	if err != nil {
		return err
	}
	s.data = data
	s.curPacketSizeBytes = newSizeBytes
	return nil
}

// ensureSpace grows the current packet, doubling its capacity, until
// it can hold sizeBits more starting at the cursor, or fails with
// ErrPacketTooLarge if that would exceed maxPacketBits.
func (s *Serializer) ensureSpace(sizeBits uint64) error {
	if !s.packetOpen {
		return ErrNoOpenPacket
	}
	needed := s.cursorBits + sizeBits
	if s.maxPacketBits != 0 && needed > s.maxPacketBits {
		return ErrPacketTooLarge
	}
	if needed <= s.curPacketSizeBytes*8 {
		return nil
	}
	newSize := s.curPacketSizeBytes
	if newSize == 0 {
		newSize = s.pageSize
	}
	for newSize*8 < needed {
		newSize *= 2
	}
	if s.maxPacketBits != 0 && newSize*8 > ((s.maxPacketBits+7)/8)*8 {
		maxBytes := (s.maxPacketBits + 7) / 8
		if needed > maxBytes*8 {
			return ErrPacketTooLarge
		}
		newSize = maxBytes
	}
	return s.mapPacket(newSize)
}

// Align advances the cursor to the next multiple of alignmentBits,
// growing the packet if necessary.
func (s *Serializer) Align(alignmentBits uint64) error {
	if alignmentBits == 0 || alignmentBits&(alignmentBits-1) != 0 {
		return ErrInvalidAlignment
	}
	aligned := alignUp(s.cursorBits, alignmentBits)
	if aligned == s.cursorBits {
		return nil
	}
	if err := s.ensureSpace(aligned - s.cursorBits); err != nil {
		return err
	}
	s.cursorBits = aligned
	return nil
}

func alignUp(offset, alignment uint64) uint64 {
	return (offset + alignment - 1) &^ (alignment - 1)
}

// addr returns the byte address of the cursor, which must already be
// byte-aligned.
func (s *Serializer) addr() []byte {
	return s.data[s.cursorBits/8:]
}

// WriteUint writes an unsigned integer of widthBits width, aligning
// to alignmentBits first.
func (s *Serializer) WriteUint(value uint64, alignmentBits, widthBits uint64, order ByteOrder) error {
	if widthBits == 0 || widthBits > 64 {
		return ErrInvalidWidth
	}
	if err := s.Align(alignmentBits); err != nil {
		return err
	}
	if err := s.ensureSpace(widthBits); err != nil {
		return err
	}
	if widthBits%8 == 0 && s.cursorBits%8 == 0 {
		writeByteAlignedUint(s.addr(), value, widthBits, order)
	} else {
		writeBitfieldUint(s.data, s.cursorBits, value, widthBits, order)
	}
	s.cursorBits += widthBits
	return nil
}

// WriteInt writes a signed integer of widthBits width (two's
// complement), aligning to alignmentBits first.
func (s *Serializer) WriteInt(value int64, alignmentBits, widthBits uint64, order ByteOrder) error {
	mask := uint64(1)<<widthBits - 1
	if widthBits == 64 {
		mask = ^uint64(0)
	}
	return s.WriteUint(uint64(value)&mask, alignmentBits, widthBits, order)
}

// WriteF32 writes a 32-bit IEEE-754 float by bit-casting it to an
// unsigned integer.
func (s *Serializer) WriteF32(value float32, alignmentBits uint64, order ByteOrder) error {
	return s.WriteUint(uint64(float32bits(value)), alignmentBits, 32, order)
}

// WriteF64 writes a 64-bit IEEE-754 float by bit-casting it to an
// unsigned integer.
func (s *Serializer) WriteF64(value float64, alignmentBits uint64, order ByteOrder) error {
	return s.WriteUint(float64bits(value), alignmentBits, 64, order)
}

// WriteString aligns to 8 bits, writes the UTF-8 bytes of v and a
// terminating NUL byte.
func (s *Serializer) WriteString(v string) error {
	if err := s.Align(8); err != nil {
		return err
	}
	total := uint64(len(v)+1) * 8
	if err := s.ensureSpace(total); err != nil {
		return err
	}
	copy(s.addr(), v)
	s.data[s.cursorBits/8+uint64(len(v))] = 0
	s.cursorBits += total
	return nil
}

// ClosePacket records packetSizeBytes as the packet's committed
// length: the file is truncated to streamSizeBytes+packetSizeBytes
// (dropping any doubled-but-unused capacity), the region is unmapped,
// and the running stream size is advanced.
func (s *Serializer) ClosePacket(packetSizeBytes uint64) error {
	if !s.packetOpen {
		return ErrNoOpenPacket
	}
	if s.data != nil {
		if err := s.data.Unmap(); err != nil {
			return err
		}
		s.data = nil
	}
	if err := s.f.Truncate(int64(s.streamSizeBytes + packetSizeBytes)); err != nil {
		return err
	}
	s.prevPacketSizeBytes = packetSizeBytes
	s.streamSizeBytes += packetSizeBytes
	s.curPacketSizeBytes = 0
	s.cursorBits = 0
	s.packetOpen = false
	return nil
}

// DiscardPacket abandons the currently open packet without writing
// it to the committed stream length, used when an event does not fit
// and the whole packet attempt must be rolled back by the caller.
func (s *Serializer) DiscardPacket() error {
	if !s.packetOpen {
		return ErrNoOpenPacket
	}
	if s.data != nil {
		if err := s.data.Unmap(); err != nil {
			return err
		}
		s.data = nil
	}
	if err := s.f.Truncate(int64(s.streamSizeBytes)); err != nil {
		return err
	}
	s.curPacketSizeBytes = 0
	s.cursorBits = 0
	s.packetOpen = false
	return nil
}

// PacketOpen reports whether a packet is currently open.
func (s *Serializer) PacketOpen() bool { return s.packetOpen }

// Close finalizes the stream file. It is an error to call it while a
// packet is still open.
func (s *Serializer) Close() error {
	if s.packetOpen {
		return ErrPacketAlreadyOpen
	}
	return s.f.Close()
}

// RawBytes exposes the mapped bytes of the currently open packet, for
// tests that verify byte-exact layout. It must not be mutated.
func (s *Serializer) RawBytes() []byte {
	return s.data
}
