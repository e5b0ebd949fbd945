package amd64

import (
	"fmt"
	"sync"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/tetratelabs/wazerofx/internal/compiler"
)

// golang-asm fills its instruction tables on the first NewBuilder, which must not race with other builders.
var initOnce sync.Once

func initGolangAsm() {
	initOnce.Do(func() {
		if _, err := goasm.NewBuilder("amd64", 1); err != nil {
			panic(err)
		}
	})
}

// callSize is the size of CALL rel32.
const callSize = 5

// assembler builds one function with golang-asm and tracks the instructions whose offsets are needed after
// assembly.
type assembler struct {
	b *goasm.Builder
	// calls are the first byte of each call placeholder, index-correlated with targets.
	calls   []*obj.Prog
	targets []compiler.RelocationTarget
	traps   []*obj.Prog
}

func newAssembler() (*assembler, error) {
	initGolangAsm()
	b, err := goasm.NewBuilder("amd64", 64)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	return &assembler{b: b}, nil
}

func (a *assembler) add(p *obj.Prog) {
	a.b.AddInstruction(p)
}

func (a *assembler) newProg(as obj.As) *obj.Prog {
	p := a.b.NewProg()
	p.As = as
	return p
}

func (a *assembler) standalone(as obj.As) *obj.Prog {
	p := a.newProg(as)
	a.add(p)
	return p
}

func (a *assembler) push(reg int16) {
	p := a.newProg(x86.APUSHQ)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg
	a.add(p)
}

func (a *assembler) pop(reg int16) {
	p := a.newProg(x86.APOPQ)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	a.add(p)
}

func (a *assembler) regToReg(as obj.As, from, to int16) {
	p := a.newProg(as)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = from
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	a.add(p)
}

func (a *assembler) constToReg(as obj.As, c int64, to int16) {
	p := a.newProg(as)
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = c
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	a.add(p)
}

func (a *assembler) memToReg(as obj.As, base int16, offset int64, to int16) {
	p := a.newProg(as)
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = to
	a.add(p)
}

func (a *assembler) regToMem(as obj.As, from, base int16, offset int64) {
	p := a.newProg(as)
	p.From.Type = obj.TYPE_REG
	p.From.Reg = from
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = offset
	a.add(p)
}

func (a *assembler) callReg(reg int16) {
	p := a.newProg(obj.ACALL)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	a.add(p)
}

// call emits CALL rel32 with a zero displacement to be patched once the target is linked. The bytes are emitted
// raw since golang-asm only encodes calls to symbols.
func (a *assembler) call(target compiler.RelocationTarget) {
	for i, b := range [callSize]byte{0xe8} {
		p := a.newProg(x86.ABYTE)
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = int64(b)
		a.add(p)
		if i == 0 {
			a.calls = append(a.calls, p)
		}
	}
	a.targets = append(a.targets, target)
}

func (a *assembler) trap() {
	a.traps = append(a.traps, a.standalone(x86.AUD2))
}

func (a *assembler) prologue() {
	a.push(x86.REG_BP)
	a.regToReg(x86.AMOVQ, x86.REG_SP, x86.REG_BP)
}

func (a *assembler) epilogue() {
	a.regToReg(x86.AMOVQ, x86.REG_BP, x86.REG_SP)
	a.pop(x86.REG_BP)
	a.standalone(obj.ARET)
}

// assemble returns the machine code with the relocations and trap sites it contains.
func (a *assembler) assemble() *code {
	c := &code{bytes: a.b.Assemble()}
	for i, p := range a.calls {
		// The displacement follows the opcode byte.
		c.relocs = append(c.relocs, relocation{offset: uint32(p.Pc) + 1, target: a.targets[i]})
	}
	for _, p := range a.traps {
		c.traps = append(c.traps, uint32(p.Pc))
	}
	return c
}
