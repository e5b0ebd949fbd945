package object

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilder_AppendText(t *testing.T) {
	b := NewBuilder(elf.EM_X86_64)
	require.Equal(t, uint64(0), b.AppendText([]byte{1, 2, 3}, 16))
	require.Equal(t, uint64(16), b.AppendText([]byte{4}, 16))
	require.Equal(t, uint64(20), b.AppendText([]byte{5}, 4))
	require.Equal(t, []byte{
		1, 2, 3, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc,
		4, 0xcc, 0xcc, 0xcc,
		5,
	}, b.Text())

	require.PanicsWithValue(t, "BUG: invalid alignment 3", func() { b.AppendText(nil, 3) })
}

func TestBuilder_Symbols(t *testing.T) {
	b := NewBuilder(elf.EM_AARCH64)
	b.AppendText(make([]byte, 8), 4)
	b.AddSymbol("f", 0, 8)

	off, ok := b.SymbolOffset("f")
	require.True(t, ok)
	require.Equal(t, uint64(0), off)
	_, ok = b.SymbolOffset("g")
	require.False(t, ok)

	require.PanicsWithValue(t, `BUG: duplicate symbol "f"`, func() { b.AddSymbol("f", 0, 1) })
	require.PanicsWithValue(t, `BUG: symbol "g" [0x4, 0xc) exceeds .text of size 0x8`, func() { b.AddSymbol("g", 4, 8) })
}

func TestBuilder_Sections(t *testing.T) {
	b := NewBuilder(elf.EM_X86_64)
	b.AddSection(".a", []byte("one"), 0)
	b.AddSection(".a", []byte("two"), 8)
	data, ok := b.Section(".a")
	require.True(t, ok)
	require.Equal(t, "two", string(data))
	require.Equal(t, 1, len(b.sections))
}

func TestBuilder_WriteTo(t *testing.T) {
	b := NewBuilder(elf.EM_X86_64)
	first := b.AppendText([]byte{0x90, 0xc3}, 16)
	second := b.AppendText([]byte{0x0f, 0x0b}, 16)
	// Out of order on purpose.
	b.AddSymbol("second", second, 2)
	b.AddSymbol("first", first, 2)
	b.AddSection(".wazerofx.artifacts", []byte("modules: {}\n"), 1)
	b.AddSection(".debug_abbrev", []byte{0}, 1)

	f, err := elf.NewFile(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, elf.ET_REL, f.Type)
	require.Equal(t, elf.EM_X86_64, f.Machine)
	require.Equal(t, elf.ELFCLASS64, f.Class)

	text := f.Section(".text")
	require.NotNil(t, text)
	require.Equal(t, elf.SHF_ALLOC|elf.SHF_EXECINSTR, text.Flags)
	data, err := text.Data()
	require.NoError(t, err)
	require.Equal(t, b.Text(), data)

	manifest := f.Section(".wazerofx.artifacts")
	require.NotNil(t, manifest)
	data, err = manifest.Data()
	require.NoError(t, err)
	require.Equal(t, "modules: {}\n", string(data))
	require.NotNil(t, f.Section(".debug_abbrev"))

	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Equal(t, 2, len(syms))
	require.Equal(t, "first", syms[0].Name)
	require.Equal(t, uint64(0), syms[0].Value)
	require.Equal(t, "second", syms[1].Name)
	require.Equal(t, uint64(16), syms[1].Value)
	require.Equal(t, uint64(2), syms[1].Size)
	require.Equal(t, elf.STT_FUNC, elf.ST_TYPE(syms[1].Info))
	require.Equal(t, elf.STB_GLOBAL, elf.ST_BIND(syms[1].Info))
	require.Equal(t, text.Name, f.Sections[syms[1].Section].Name)

	var buf bytes.Buffer
	n, err := b.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
}

func TestBuilder_Empty(t *testing.T) {
	f, err := elf.NewFile(bytes.NewReader(NewBuilder(elf.EM_X86_64).Bytes()))
	require.NoError(t, err)
	defer f.Close()
	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Empty(t, syms)
}
