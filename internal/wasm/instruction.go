package wasm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tetratelabs/wazerofx/internal/leb128"
)

// Opcode is the binary Opcode of an instruction. See also InstructionName
type Opcode = byte

const (
	// OpcodeUnreachable causes an unconditional trap.
	OpcodeUnreachable Opcode = 0x00
	// OpcodeNop does nothing
	OpcodeNop   Opcode = 0x01
	OpcodeBlock Opcode = 0x02
	OpcodeLoop  Opcode = 0x03
	OpcodeIf    Opcode = 0x04
	OpcodeElse  Opcode = 0x05
	// OpcodeEnd terminates a control instruction OpcodeBlock, OpcodeLoop or OpcodeIf, or the function body.
	OpcodeEnd Opcode = 0x0b

	OpcodeBr           Opcode = 0x0c
	OpcodeBrIf         Opcode = 0x0d
	OpcodeBrTable      Opcode = 0x0e
	OpcodeReturn       Opcode = 0x0f
	OpcodeCall         Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11

	// parametric instructions

	OpcodeDrop        Opcode = 0x1a
	OpcodeSelect      Opcode = 0x1b
	OpcodeTypedSelect Opcode = 0x1c

	// variable instructions

	OpcodeLocalGet  Opcode = 0x20
	OpcodeLocalSet  Opcode = 0x21
	OpcodeLocalTee  Opcode = 0x22
	OpcodeGlobalGet Opcode = 0x23
	OpcodeGlobalSet Opcode = 0x24
	OpcodeTableGet  Opcode = 0x25
	OpcodeTableSet  Opcode = 0x26

	// memory instructions

	OpcodeI32Load    Opcode = 0x28
	OpcodeI64Store32 Opcode = 0x3e
	OpcodeMemorySize Opcode = 0x3f
	OpcodeMemoryGrow Opcode = 0x40

	// const instructions

	OpcodeI32Const Opcode = 0x41
	OpcodeI64Const Opcode = 0x42
	OpcodeF32Const Opcode = 0x43
	OpcodeF64Const Opcode = 0x44

	// numeric instructions span OpcodeI32Eqz..OpcodeI64Extend32S and take no immediates.

	OpcodeI32Eqz       Opcode = 0x45
	OpcodeI64Extend32S Opcode = 0xc4

	// reference instructions

	OpcodeRefNull   Opcode = 0xd0
	OpcodeRefIsNull Opcode = 0xd1
	OpcodeRefFunc   Opcode = 0xd2

	// stack switching instructions
	// See https://github.com/WebAssembly/stack-switching/blob/main/proposals/stack-switching/Explainer.md#instructions

	OpcodeContNew     Opcode = 0xe0
	OpcodeContBind    Opcode = 0xe1
	OpcodeSuspend     Opcode = 0xe2
	OpcodeResume      Opcode = 0xe3
	OpcodeResumeThrow Opcode = 0xe4
	OpcodeSwitch      Opcode = 0xe5

	// OpcodeMiscPrefix is the prefix of the saturating truncation, bulk memory and table instructions.
	OpcodeMiscPrefix Opcode = 0xfc
)

// InstructionName returns the text format name of the opcodes this package models explicitly.
func InstructionName(oc Opcode) string {
	switch oc {
	case OpcodeUnreachable:
		return "unreachable"
	case OpcodeNop:
		return "nop"
	case OpcodeBlock:
		return "block"
	case OpcodeLoop:
		return "loop"
	case OpcodeIf:
		return "if"
	case OpcodeElse:
		return "else"
	case OpcodeEnd:
		return "end"
	case OpcodeBr:
		return "br"
	case OpcodeBrIf:
		return "br_if"
	case OpcodeBrTable:
		return "br_table"
	case OpcodeReturn:
		return "return"
	case OpcodeCall:
		return "call"
	case OpcodeCallIndirect:
		return "call_indirect"
	case OpcodeDrop:
		return "drop"
	case OpcodeSelect, OpcodeTypedSelect:
		return "select"
	case OpcodeLocalGet:
		return "local.get"
	case OpcodeI32Const:
		return "i32.const"
	case OpcodeI64Const:
		return "i64.const"
	case OpcodeF32Const:
		return "f32.const"
	case OpcodeF64Const:
		return "f64.const"
	case OpcodeRefNull:
		return "ref.null"
	case OpcodeRefFunc:
		return "ref.func"
	case OpcodeContNew:
		return "cont.new"
	case OpcodeContBind:
		return "cont.bind"
	case OpcodeSuspend:
		return "suspend"
	case OpcodeResume:
		return "resume"
	case OpcodeResumeThrow:
		return "resume_throw"
	case OpcodeSwitch:
		return "switch"
	}
	return fmt.Sprintf("%#x", oc)
}

// HandlerKind distinguishes the clauses of a resume table.
type HandlerKind = byte

const (
	// HandlerKindOnLabel is (on $tag $label): suspensions with $tag branch to $label.
	HandlerKindOnLabel HandlerKind = 0x00
	// HandlerKindOnSwitch is (on $tag switch): switch instructions with $tag may target this resume.
	HandlerKindOnSwitch HandlerKind = 0x01
)

// ResumeHandler is one clause of the resume table immediate of OpcodeResume and OpcodeResumeThrow.
type ResumeHandler struct {
	Kind  HandlerKind
	Tag   Index
	Label Index
}

// Instruction is one decoded instruction. Only the immediates the instruction has are populated.
type Instruction struct {
	Opcode Opcode
	// Offset is the position of the opcode in the function body.
	Offset int
	// Imm1 and Imm2 are the first two integer immediates, e.g. the function index of call or the type and tag
	// indexes of switch.
	Imm1, Imm2 uint64
	// Handlers is the resume table of OpcodeResume and OpcodeResumeThrow.
	Handlers []ResumeHandler
}

// InstructionReader decodes a function body instruction by instruction.
type InstructionReader struct {
	body []byte
	r    *bytes.Reader
}

// NewInstructionReader returns a reader over a function body as stored in Code.Body.
func NewInstructionReader(body []byte) *InstructionReader {
	return &InstructionReader{body: body, r: bytes.NewReader(body)}
}

// Next returns the next instruction, or io.EOF after the last one.
func (ir *InstructionReader) Next() (inst Instruction, err error) {
	inst.Offset = len(ir.body) - ir.r.Len()
	inst.Opcode, err = ir.r.ReadByte()
	if err != nil {
		return inst, io.EOF
	}

	switch op := inst.Opcode; {
	case op == OpcodeUnreachable, op == OpcodeNop, op == OpcodeElse, op == OpcodeEnd, op == OpcodeReturn,
		op == OpcodeDrop, op == OpcodeSelect, op == OpcodeRefIsNull:
	case op == OpcodeBlock, op == OpcodeLoop, op == OpcodeIf:
		var bt int64
		bt, _, err = leb128.DecodeInt64(ir.r)
		inst.Imm1 = uint64(bt)
	case op == OpcodeBr, op == OpcodeBrIf, op == OpcodeCall,
		op >= OpcodeLocalGet && op <= OpcodeTableSet,
		op == OpcodeMemorySize, op == OpcodeMemoryGrow, op == OpcodeRefFunc,
		op == OpcodeContNew, op == OpcodeSuspend:
		inst.Imm1, err = ir.u32()
	case op == OpcodeCallIndirect, op >= OpcodeI32Load && op <= OpcodeI64Store32,
		op == OpcodeContBind, op == OpcodeSwitch:
		if inst.Imm1, err = ir.u32(); err == nil {
			inst.Imm2, err = ir.u32()
		}
	case op == OpcodeBrTable:
		var n uint64
		if n, err = ir.u32(); err == nil {
			for i := uint64(0); i <= n && err == nil; i++ {
				inst.Imm1, err = ir.u32() // the default label is last
			}
		}
	case op == OpcodeTypedSelect:
		var n uint64
		if n, err = ir.u32(); err == nil {
			_, err = ir.r.Seek(int64(n), io.SeekCurrent)
		}
	case op == OpcodeI32Const:
		var v int32
		v, _, err = leb128.DecodeInt32(ir.r)
		inst.Imm1 = uint64(v)
	case op == OpcodeI64Const:
		var v int64
		v, _, err = leb128.DecodeInt64(ir.r)
		inst.Imm1 = uint64(v)
	case op == OpcodeF32Const:
		inst.Imm1, err = ir.fixed(4)
	case op == OpcodeF64Const:
		inst.Imm1, err = ir.fixed(8)
	case op >= OpcodeI32Eqz && op <= OpcodeI64Extend32S:
	case op == OpcodeRefNull:
		var ht int64
		ht, _, err = leb128.DecodeInt64(ir.r)
		inst.Imm1 = uint64(ht)
	case op == OpcodeResume:
		if inst.Imm1, err = ir.u32(); err == nil {
			inst.Handlers, err = ir.handlers()
		}
	case op == OpcodeResumeThrow:
		if inst.Imm1, err = ir.u32(); err == nil {
			if inst.Imm2, err = ir.u32(); err == nil {
				inst.Handlers, err = ir.handlers()
			}
		}
	case op == OpcodeMiscPrefix:
		err = ir.misc(&inst)
	default:
		return inst, fmt.Errorf("unsupported opcode %#x at offset %d", op, inst.Offset)
	}
	if err != nil {
		return inst, fmt.Errorf("read immediates of %s at offset %d: %w", InstructionName(inst.Opcode), inst.Offset, err)
	}
	return inst, nil
}

func (ir *InstructionReader) u32() (uint64, error) {
	v, _, err := leb128.DecodeUint32(ir.r)
	return uint64(v), err
}

func (ir *InstructionReader) fixed(n int) (ret uint64, err error) {
	for i := 0; i < n; i++ {
		b, err := ir.r.ReadByte()
		if err != nil {
			return 0, io.ErrUnexpectedEOF
		}
		ret |= uint64(b) << (8 * i)
	}
	return
}

func (ir *InstructionReader) handlers() ([]ResumeHandler, error) {
	n, err := ir.u32()
	if err != nil {
		return nil, err
	}
	ret := make([]ResumeHandler, n)
	for i := range ret {
		h := &ret[i]
		if h.Kind, err = ir.r.ReadByte(); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		tag, err := ir.u32()
		if err != nil {
			return nil, err
		}
		h.Tag = Index(tag)
		switch h.Kind {
		case HandlerKindOnLabel:
			label, err := ir.u32()
			if err != nil {
				return nil, err
			}
			h.Label = Index(label)
		case HandlerKindOnSwitch:
		default:
			return nil, fmt.Errorf("invalid handler kind %#x", h.Kind)
		}
	}
	return ret, nil
}

func (ir *InstructionReader) misc(inst *Instruction) (err error) {
	var sub uint64
	if sub, err = ir.u32(); err != nil {
		return
	}
	inst.Imm1 = sub
	switch {
	case sub <= 7: // saturating truncation
	case sub == 8: // memory.init
		if inst.Imm2, err = ir.u32(); err == nil {
			_, err = ir.r.ReadByte()
		}
	case sub == 9, sub == 13, sub >= 15 && sub <= 17: // data.drop, elem.drop, table.grow/size/fill
		inst.Imm2, err = ir.u32()
	case sub == 10: // memory.copy
		_, err = ir.r.Seek(2, io.SeekCurrent)
	case sub == 11: // memory.fill
		_, err = ir.r.ReadByte()
	case sub == 12, sub == 14: // table.init, table.copy
		if inst.Imm2, err = ir.u32(); err == nil {
			_, err = ir.u32()
		}
	default:
		err = fmt.Errorf("unsupported misc opcode %d", sub)
	}
	return
}
