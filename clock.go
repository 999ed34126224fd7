// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import (
	"math/bits"

	"github.com/google/uuid"
)

// ClockClass describes a clock source: frequency, a fixed-point
// offset from its origin, precision and identity. It is immutable
// after first use (freeze is called the first time it is attached to
// a stream class).
type ClockClass struct {
	name          string
	description   string
	frequencyHz   uint64
	offsetSeconds int64
	offsetCycles  uint64
	precision     uint64
	id            uuid.UUID
	hasID         bool
	originIsUnix  bool
	frozen        bool
}

// NewClockClass creates a clock class. frequencyHz must be non-zero.
func NewClockClass(name string, frequencyHz uint64) (*ClockClass, error) {
	if frequencyHz == 0 {
		return nil, ErrTypeMismatch
	}
	return &ClockClass{name: name, frequencyHz: frequencyHz}, nil
}

func (cc *ClockClass) checkMutable() error {
	if cc.frozen {
		return ErrFrozen
	}
	return nil
}

func (cc *ClockClass) freeze() { cc.frozen = true }

// Name returns the clock class's name.
func (cc *ClockClass) Name() string { return cc.name }

// FrequencyHz returns the clock's frequency, in Hz.
func (cc *ClockClass) FrequencyHz() uint64 { return cc.frequencyHz }

// SetOffset sets the fixed-point offset (seconds, cycles) added to
// cycles/frequency when converting to nanoseconds from origin.
func (cc *ClockClass) SetOffset(seconds int64, cycles uint64) error {
	if err := cc.checkMutable(); err != nil {
		return err
	}
	if cycles >= cc.frequencyHz {
		return ErrClockOverflow
	}
	cc.offsetSeconds = seconds
	cc.offsetCycles = cycles
	return nil
}

// OffsetSeconds returns the whole-second part of the clock's offset.
func (cc *ClockClass) OffsetSeconds() int64 { return cc.offsetSeconds }

// OffsetCycles returns the cycle-remainder part of the clock's offset.
func (cc *ClockClass) OffsetCycles() uint64 { return cc.offsetCycles }

// SetPrecisionCycles sets the clock's precision, in cycles.
func (cc *ClockClass) SetPrecisionCycles(cycles uint64) error {
	if err := cc.checkMutable(); err != nil {
		return err
	}
	cc.precision = cycles
	return nil
}

// PrecisionCycles returns the clock's precision, in cycles.
func (cc *ClockClass) PrecisionCycles() uint64 { return cc.precision }

// SetUUID sets the clock class's identity.
func (cc *ClockClass) SetUUID(id uuid.UUID) error {
	if err := cc.checkMutable(); err != nil {
		return err
	}
	cc.id = id
	cc.hasID = true
	return nil
}

// UUID returns the clock class's identity and whether one is set.
func (cc *ClockClass) UUID() (uuid.UUID, bool) { return cc.id, cc.hasID }

// SetDescription sets a free-form description.
func (cc *ClockClass) SetDescription(d string) error {
	if err := cc.checkMutable(); err != nil {
		return err
	}
	cc.description = d
	return nil
}

// Description returns the clock class's free-form description.
func (cc *ClockClass) Description() string { return cc.description }

// SetOriginIsUnixEpoch records whether cycle 0 (at the zero offset)
// coincides with the Unix epoch.
func (cc *ClockClass) SetOriginIsUnixEpoch(v bool) error {
	if err := cc.checkMutable(); err != nil {
		return err
	}
	cc.originIsUnix = v
	return nil
}

// OriginIsUnixEpoch reports whether the clock's origin is the Unix
// epoch.
func (cc *ClockClass) OriginIsUnixEpoch() bool { return cc.originIsUnix }

// CyclesToNsFromOrigin converts a cycle count to nanoseconds since the
// clock's origin. All intermediate arithmetic happens in 128-bit-wide
// (two-word) form to avoid overflowing int64 on the way there; the
// result is rejected with ErrClockOverflow if it would not fit an
// int64.
func (cc *ClockClass) CyclesToNsFromOrigin(cycles uint64) (int64, error) {
	wholeSeconds := cycles / cc.frequencyHz
	remainderCycles := cycles % cc.frequencyHz

	nsFromWhole, ok := mulU64Overflow(wholeSeconds, 1e9)
	if !ok {
		return 0, ErrClockOverflow
	}
	nsFromRemainder, ok := mulDivU64(remainderCycles, 1e9, cc.frequencyHz)
	if !ok {
		return 0, ErrClockOverflow
	}
	totalNs, ok := addU64Overflow(nsFromWhole, nsFromRemainder)
	if !ok {
		return 0, ErrClockOverflow
	}

	offsetNsFromSeconds, ok := mulI64Overflow(cc.offsetSeconds, 1e9)
	if !ok {
		return 0, ErrClockOverflow
	}
	offsetNsFromCycles, ok := mulDivU64(cc.offsetCycles, 1e9, cc.frequencyHz)
	if !ok {
		return 0, ErrClockOverflow
	}

	result, ok := addI64U64Overflow(offsetNsFromSeconds, offsetNsFromCycles)
	if !ok {
		return 0, ErrClockOverflow
	}
	result, ok = addI64U64Overflow(result, totalNs)
	if !ok {
		return 0, ErrClockOverflow
	}
	return result, nil
}

// NsFromOriginToCycles converts nanoseconds since the clock's origin
// back to a cycle count, the inverse of CyclesToNsFromOrigin.
func (cc *ClockClass) NsFromOriginToCycles(ns int64) (uint64, error) {
	offsetNsFromSeconds, ok := mulI64Overflow(cc.offsetSeconds, 1e9)
	if !ok {
		return 0, ErrClockOverflow
	}
	offsetNsFromCycles, ok := mulDivU64(cc.offsetCycles, 1e9, cc.frequencyHz)
	if !ok {
		return 0, ErrClockOverflow
	}
	offsetNs, ok := addI64U64Overflow(offsetNsFromSeconds, offsetNsFromCycles)
	if !ok {
		return 0, ErrClockOverflow
	}

	relativeNs := ns - offsetNs
	if relativeNs < 0 {
		return 0, ErrClockOverflow
	}
	cycles, ok := mulDivU64(uint64(relativeNs), cc.frequencyHz, 1e9)
	if !ok {
		return 0, ErrClockOverflow
	}
	return cycles, nil
}

func mulU64Overflow(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/a != b {
		return 0, false
	}
	return r, true
}

// mulDivU64 computes a*b/c without overflowing, using the 128-bit
// intermediate product from math/bits.Mul64/Div64.
func mulDivU64(a, b, c uint64) (uint64, bool) {
	if c == 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, true
}

func addU64Overflow(a, b uint64) (uint64, bool) {
	r := a + b
	if r < a {
		return 0, false
	}
	return r, true
}

func mulI64Overflow(a int64, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if r/a != b {
		return 0, false
	}
	return r, true
}

func addI64U64Overflow(a int64, b uint64) (int64, bool) {
	if b > 1<<63-1 {
		return 0, false
	}
	r := a + int64(b)
	if r < a {
		return 0, false
	}
	return r, true
}
