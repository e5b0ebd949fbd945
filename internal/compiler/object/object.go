// Package object writes relocatable ELF64 objects holding compiled code, its symbols and auxiliary sections.
package object

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Symbol is a function symbol defined in .text.
type Symbol struct {
	Name   string
	Offset uint64
	Size   uint64
}

// Section is a non-code section, e.g. DWARF or the artifacts manifest.
type Section struct {
	Name  string
	Data  []byte
	Align uint64
}

// Builder accumulates the contents of an object. The zero value is not usable; see NewBuilder.
type Builder struct {
	machine  elf.Machine
	pad      byte
	text     []byte
	symbols  []Symbol
	byName   map[string]int
	sections []Section
}

// NewBuilder returns a Builder for the given machine.
func NewBuilder(machine elf.Machine) *Builder {
	b := &Builder{machine: machine, byName: map[string]int{}}
	if machine == elf.EM_X86_64 || machine == elf.EM_386 {
		// int3
		b.pad = 0xcc
	}
	return b
}

// Machine returns the machine the object is built for.
func (b *Builder) Machine() elf.Machine {
	return b.machine
}

// AppendText appends code to .text at the next multiple of align and returns its offset.
func (b *Builder) AppendText(code []byte, align int) uint64 {
	if align <= 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("BUG: invalid alignment %d", align))
	}
	for len(b.text)%align != 0 {
		b.text = append(b.text, b.pad)
	}
	offset := uint64(len(b.text))
	b.text = append(b.text, code...)
	return offset
}

// Text returns the contents of .text. Relocations are resolved by patching it in place.
func (b *Builder) Text() []byte {
	return b.text
}

// AddSymbol defines a function symbol. Symbol names must be unique.
func (b *Builder) AddSymbol(name string, offset, size uint64) {
	if _, ok := b.byName[name]; ok {
		panic(fmt.Sprintf("BUG: duplicate symbol %q", name))
	}
	if offset+size > uint64(len(b.text)) {
		panic(fmt.Sprintf("BUG: symbol %q [%#x, %#x) exceeds .text of size %#x", name, offset, offset+size, len(b.text)))
	}
	b.byName[name] = len(b.symbols)
	b.symbols = append(b.symbols, Symbol{Name: name, Offset: offset, Size: size})
}

// SymbolOffset returns the offset of the symbol in .text.
func (b *Builder) SymbolOffset(name string) (uint64, bool) {
	i, ok := b.byName[name]
	if !ok {
		return 0, false
	}
	return b.symbols[i].Offset, true
}

// Symbols returns the symbols in definition order.
func (b *Builder) Symbols() []Symbol {
	return b.symbols
}

// AddSection adds a section, replacing the one of the same name if any.
func (b *Builder) AddSection(name string, data []byte, align uint64) {
	if align == 0 {
		align = 1
	}
	for i := range b.sections {
		if b.sections[i].Name == name {
			b.sections[i] = Section{Name: name, Data: data, Align: align}
			return
		}
	}
	b.sections = append(b.sections, Section{Name: name, Data: data, Align: align})
}

// Section returns the data of the section added with AddSection.
func (b *Builder) Section(name string) ([]byte, bool) {
	for i := range b.sections {
		if b.sections[i].Name == name {
			return b.sections[i].Data, true
		}
	}
	return nil, false
}

// Bytes returns the encoded object.
func (b *Builder) Bytes() []byte {
	var buf bytes.Buffer
	if _, err := b.WriteTo(&buf); err != nil {
		panic("BUG: " + err.Error())
	}
	return buf.Bytes()
}

// stringTable builds an ELF string table, where offset 0 is the empty string.
type stringTable struct {
	data    []byte
	offsets map[string]uint32
}

func newStringTable() *stringTable {
	return &stringTable{data: []byte{0}, offsets: map[string]uint32{"": 0}}
}

func (t *stringTable) add(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(len(t.data))
	t.data = append(append(t.data, s...), 0)
	t.offsets[s] = off
	return off
}

// WriteTo implements io.WriterTo.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	const ehdrSize, shdrSize, symSize = 64, 64, 24

	shstrtab, strtab := newStringTable(), newStringTable()

	type section struct {
		hdr  elf.Section64
		data []byte
	}
	sections := []section{{}}
	textIndex := len(sections)
	sections = append(sections, section{
		hdr: elf.Section64{
			Name:      shstrtab.add(".text"),
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addralign: 16,
		},
		data: b.text,
	})
	for _, s := range b.sections {
		sections = append(sections, section{
			hdr:  elf.Section64{Name: shstrtab.add(s.Name), Type: uint32(elf.SHT_PROGBITS), Addralign: s.Align},
			data: s.Data,
		})
	}

	// Symbols are sorted by address so that the table is stable regardless of the order of AddSymbol.
	syms := make([]Symbol, len(b.symbols))
	copy(syms, b.symbols)
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].Offset < syms[j].Offset })
	var symtab bytes.Buffer
	_ = binary.Write(&symtab, binary.LittleEndian, elf.Sym64{})
	for _, s := range syms {
		_ = binary.Write(&symtab, binary.LittleEndian, elf.Sym64{
			Name:  strtab.add(s.Name),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: uint16(textIndex),
			Value: s.Offset,
			Size:  s.Size,
		})
	}
	symtabIndex := len(sections)
	sections = append(sections, section{
		hdr: elf.Section64{
			Name:      shstrtab.add(".symtab"),
			Type:      uint32(elf.SHT_SYMTAB),
			Link:      uint32(symtabIndex + 1),
			Info:      1, // index of the first global symbol
			Addralign: 8,
			Entsize:   symSize,
		},
		data: symtab.Bytes(),
	})
	sections = append(sections, section{
		hdr:  elf.Section64{Name: shstrtab.add(".strtab"), Type: uint32(elf.SHT_STRTAB), Addralign: 1},
		data: strtab.data,
	})
	shstrndx := len(sections)
	name := shstrtab.add(".shstrtab")
	sections = append(sections, section{
		hdr:  elf.Section64{Name: name, Type: uint32(elf.SHT_STRTAB), Addralign: 1},
		data: shstrtab.data,
	})

	// Lay out section contents right after the ELF header, then the section header table.
	offset := uint64(ehdrSize)
	for i := 1; i < len(sections); i++ {
		s := &sections[i]
		if align := s.hdr.Addralign; align > 1 {
			offset = (offset + align - 1) &^ (align - 1)
		}
		s.hdr.Off = offset
		s.hdr.Size = uint64(len(s.data))
		offset += s.hdr.Size
	}
	shoff := (offset + 7) &^ 7

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(b.machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    ehdrSize,
		Shentsize: shdrSize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(shstrndx),
	})
	for i := 1; i < len(sections); i++ {
		s := &sections[i]
		for uint64(out.Len()) < s.hdr.Off {
			out.WriteByte(0)
		}
		out.Write(s.data)
	}
	for uint64(out.Len()) < shoff {
		out.WriteByte(0)
	}
	for i := range sections {
		_ = binary.Write(&out, binary.LittleEndian, sections[i].hdr)
	}

	n, err := w.Write(out.Bytes())
	return int64(n), err
}
