package amd64

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazerofx/internal/compiler"
	"github.com/tetratelabs/wazerofx/internal/compiler/object"
	"github.com/tetratelabs/wazerofx/internal/leb128"
	"github.com/tetratelabs/wazerofx/internal/wasm"
)

const (
	dwarfVersion = 4

	abbrevCompileUnit = 1
	abbrevSubprogram  = 2

	// Not exported by debug/dwarf.
	formAddr   = 0x01
	formData8  = 0x07
	formString = 0x08

	producer = "wazerofx"
)

type attrSpec struct {
	attr dwarf.Attr
	form byte
}

// debugAbbrev returns .debug_abbrev for a compile unit with subprogram children.
func debugAbbrev() []byte {
	var buf bytes.Buffer
	abbrev := func(code uint32, tag dwarf.Tag, children bool, attrs ...attrSpec) {
		buf.Write(leb128.EncodeUint32(code))
		buf.Write(leb128.EncodeUint32(uint32(tag)))
		if children {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		for _, a := range attrs {
			buf.Write(leb128.EncodeUint32(uint32(a.attr)))
			buf.Write(leb128.EncodeUint32(uint32(a.form)))
		}
		buf.Write([]byte{0, 0})
	}
	abbrev(abbrevCompileUnit, dwarf.TagCompileUnit, true,
		attrSpec{dwarf.AttrName, formString},
		attrSpec{dwarf.AttrProducer, formString},
		attrSpec{dwarf.AttrLowpc, formAddr},
		attrSpec{dwarf.AttrHighpc, formData8},
	)
	abbrev(abbrevSubprogram, dwarf.TagSubprogram, false,
		attrSpec{dwarf.AttrName, formString},
		attrSpec{dwarf.AttrLowpc, formAddr},
		attrSpec{dwarf.AttrHighpc, formData8},
	)
	buf.WriteByte(0)
	return buf.Bytes()
}

// AppendDWARF implements compiler.Compiler. It describes each function as a subprogram whose pc range is relative
// to the start of .text.
func (*Compiler) AppendDWARF(obj *object.Builder, t *wasm.ModuleTranslation, funcs []compiler.DWARFFunction) error {
	if len(funcs) == 0 {
		return nil
	}
	low, high := uint64(funcs[0].Loc.Start), uint64(0)
	for _, f := range funcs {
		low = min(low, uint64(f.Loc.Start))
		high = max(high, uint64(f.Loc.Start)+uint64(f.Loc.Length))
	}

	var die bytes.Buffer
	u64 := func(v uint64) { _ = binary.Write(&die, binary.LittleEndian, v) }
	str := func(s string) {
		die.WriteString(s)
		die.WriteByte(0)
	}

	die.Write(leb128.EncodeUint32(abbrevCompileUnit))
	str(fmt.Sprintf("wasm[%d]", t.Index))
	str(producer)
	u64(low)
	u64(high - low)
	for _, f := range funcs {
		die.Write(leb128.EncodeUint32(abbrevSubprogram))
		str(f.Symbol)
		u64(uint64(f.Loc.Start))
		u64(uint64(f.Loc.Length))
	}
	// End of the children of the compile unit.
	die.WriteByte(0)

	var info bytes.Buffer
	// unit_length excludes itself: version (2), debug_abbrev_offset (4) and address_size (1) precede the DIEs.
	_ = binary.Write(&info, binary.LittleEndian, uint32(2+4+1+die.Len()))
	_ = binary.Write(&info, binary.LittleEndian, uint16(dwarfVersion))
	_ = binary.Write(&info, binary.LittleEndian, uint32(0))
	info.WriteByte(8)
	info.Write(die.Bytes())

	obj.AddSection(".debug_abbrev", debugAbbrev(), 1)
	obj.AddSection(".debug_info", info.Bytes(), 1)
	return nil
}
