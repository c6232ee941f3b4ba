// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package kvstore

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// InstructionType is the kind of a write instruction.
type InstructionType int8

const (
	// InstructionPut writes a live value.
	InstructionPut InstructionType = iota
	// InstructionDel writes a tombstone.
	InstructionDel
)

// SafeValue implements redact.SafeValue.
func (InstructionType) SafeValue() {}

func (t InstructionType) String() string {
	switch t {
	case InstructionPut:
		return "put"
	case InstructionDel:
		return "del"
	default:
		return "unknown"
	}
}

// Instruction is a single write, as accepted by Store.Batch and WriteSink.
type Instruction struct {
	Type  InstructionType
	Key   Key
	Value []byte
}

// Put returns a put instruction.
func Put(key Key, value []byte) Instruction {
	return Instruction{Type: InstructionPut, Key: key, Value: value}
}

// Del returns a del instruction.
func Del(key Key) Instruction {
	return Instruction{Type: InstructionDel, Key: key}
}

// Validate checks that the instruction can be applied.
func (ins Instruction) Validate() error {
	if len(ins.Key) == 0 {
		return ErrEmptyKey
	}
	switch ins.Type {
	case InstructionPut, InstructionDel:
		return nil
	default:
		return errors.Newf("unknown instruction type %d", redact.Safe(int8(ins.Type)))
	}
}

// InstructionFromEntry translates a record into the instruction that
// recreates it: tombstones become deletes and live entries become puts. A nil
// entry yields no instruction.
func InstructionFromEntry(e *Entry) (Instruction, bool) {
	if e == nil {
		return Instruction{}, false
	}
	if e.Deleted {
		return Del(e.Key), true
	}
	return Put(e.Key, e.Value), true
}
