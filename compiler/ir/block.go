package ir

import (
	"bytes"
	"encoding/gob"
)

// BlockKind marks special roles a block plays in the dual CFG: whether
// it's a loop header/exit (for spill target selection) or uniform (no
// divergent control flow reaches it, so logical and linear edges
// coincide).
type BlockKind uint8

const (
	BlockKindNone BlockKind = 0
	BlockKindLoopHeader BlockKind = 1 << iota
	BlockKindLoopExit
	BlockKindUniform
	BlockKindTopLevel
)

// Block is one basic block. It carries two parallel sets of control-flow
// edges: logical edges follow the source program's control flow (used for
// VGPR liveness, since divergent branches still execute both sides under
// a lane mask); linear edges follow the control flow after divergent
// branches are lowered to predicated/masked form (used for SGPR/mask
// liveness, since scalar code genuinely skips the other side).
type Block struct {
	Index        int
	Kind         BlockKind
	Instructions []*Instruction

	LogicalPreds []int
	LogicalSuccs []int
	LinearPreds  []int
	LinearSuccs  []int

	LoopNestDepth int
	LogicalIdom   int // -1 if none (entry block)
	LinearIdom    int

	VGPRDemand uint16
	SGPRDemand uint16
}

func newBlock(index int) *Block {
	return &Block{
		Index:       index,
		LogicalIdom: -1,
		LinearIdom:  -1,
	}
}

// AddLogicalEdge records a logical-CFG edge from this block to succ.
func (b *Block) AddLogicalEdge(p *Program, succ int) {
	b.LogicalSuccs = append(b.LogicalSuccs, succ)
	p.Blocks[succ].LogicalPreds = append(p.Blocks[succ].LogicalPreds, b.Index)
}

// AddLinearEdge records a linear-CFG edge from this block to succ.
func (b *Block) AddLinearEdge(p *Program, succ int) {
	b.LinearSuccs = append(b.LinearSuccs, succ)
	p.Blocks[succ].LinearPreds = append(p.Blocks[succ].LinearPreds, b.Index)
}

// AddEdge records both a logical and a linear edge, the common case for
// blocks not split around a divergent branch.
func (b *Block) AddEdge(p *Program, succ int) {
	b.AddLogicalEdge(p, succ)
	b.AddLinearEdge(p, succ)
}

// ChipClass distinguishes the two generations of register-file layout
// this backend targets.
type ChipClass int

const (
	ChipPreVI ChipClass = iota
	ChipVIPlus
)

// DeviceParams returns the total scalar-register-file size and the
// maximum individually addressable scalar register index for a chip
// class: pre-VI parts expose 512 physical sgprs but only 104 are
// addressable (the rest are banked for multiple waves); VI and later
// expose 800 with 102 addressable.
func DeviceParams(c ChipClass) (totalSGPR, maxAddressableSGPR uint16) {
	switch c {
	case ChipVIPlus:
		return 800, 102
	default:
		return 512, 104
	}
}

// OutputConfig is the final register footprint recorded for the compiled
// kernel: how many vgprs/sgprs it occupies and the resulting wave
// occupancy.
type OutputConfig struct {
	NumVGPRs  uint16
	NumSGPRs  uint16
	NumWaves  uint16
}

// Program is a compiled shader stage: its blocks in layout order plus
// chip parameters and the final register footprint filled in once
// allocation completes.
type Program struct {
	Blocks    []*Block
	ChipClass ChipClass
	Config    OutputConfig

	nextID TempID
}

// NewProgram creates an empty program targeting the given chip class.
// Temp id 0 is reserved for the "no temp" zero value, so allocation
// starts at 1.
func NewProgram(chip ChipClass) *Program {
	return &Program{ChipClass: chip, nextID: 1}
}

// AllocateTemp returns a fresh SSA temp of the given class.
func (p *Program) AllocateTemp(class RegClass) Temp {
	id := p.nextID
	p.nextID++
	return Temp{ID: id, Class: class}
}

// CreateBlock appends a new block and returns it; its Index is its
// position in Blocks.
func (p *Program) CreateBlock() *Block {
	b := newBlock(len(p.Blocks))
	p.Blocks = append(p.Blocks, b)
	return b
}

// NumTemps reports how many temps have been allocated so far.
func (p *Program) NumTemps() int { return int(p.nextID) - 1 }

// gobProgram mirrors Program's fields, exporting nextID under the name
// NextID so a decoded fixture keeps allocating fresh temp ids above
// whatever the fixture author already used, rather than colliding with
// them by restarting from the zero value.
type gobProgram struct {
	Blocks    []*Block
	ChipClass ChipClass
	Config    OutputConfig
	NextID    TempID
}

func (p Program) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	g := gobProgram{p.Blocks, p.ChipClass, p.Config, p.nextID}
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Program) GobDecode(data []byte) error {
	var g gobProgram
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return err
	}
	p.Blocks, p.ChipClass, p.Config, p.nextID = g.Blocks, g.ChipClass, g.Config, g.NextID
	return nil
}
