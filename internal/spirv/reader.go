package spirv

import (
	"fmt"
	"sort"
)

type EntryPoint struct {
	Name      string
	Model     ExecutionModel
	LocalSize [3]uint32

	id uint32
}

// Binding is a decorated resource variable.
type Binding struct {
	Name  string
	Set   uint32
	Slot  uint32
	Class StorageClass
	// BufferBlock marks the pre-1.3 encoding of a storage buffer: a Uniform
	// class variable whose block type carries the BufferBlock decoration.
	BufferBlock bool
}

func (b Binding) IsStorage() bool {
	return b.Class == StorageBuffer || (b.Class == StorageUniform && b.BufferBlock)
}

type Module struct {
	Version     uint32
	Generator   uint32
	Bound       uint32
	EntryPoints []EntryPoint
	Bindings    []Binding
}

func (m *Module) EntryPoint(name string) (EntryPoint, bool) {
	for _, ep := range m.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// BindingsInSet returns the bindings of one descriptor set ordered by slot.
func (m *Module) BindingsInSet(set uint32) []Binding {
	var out []Binding
	for _, b := range m.Bindings {
		if b.Set == set {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

type pointerType struct {
	class   StorageClass
	pointee uint32
}

type variable struct {
	id     uint32
	typeID uint32
	class  StorageClass
}

// Parse decodes a module from raw bytes.
func Parse(code []byte) (*Module, error) {
	words, err := Words(code)
	if err != nil {
		return nil, err
	}
	return ParseWords(words)
}

func ParseWords(words []uint32) (*Module, error) {
	if len(words) < headerWords {
		return nil, ErrTooShort
	}
	if words[0] != Magic {
		return nil, ErrBadMagic
	}
	m := &Module{
		Version:   words[1],
		Generator: words[2],
		Bound:     words[3],
	}

	names := map[uint32]string{}
	sets := map[uint32]uint32{}
	slots := map[uint32]uint32{}
	blocks := map[uint32]bool{}
	pointers := map[uint32]pointerType{}
	var vars []variable
	modes := map[uint32][3]uint32{}

	for pc := headerWords; pc < len(words); {
		count := int(words[pc] >> 16)
		op := opcode(words[pc] & 0xffff)
		if count == 0 || pc+count > len(words) {
			return nil, fmt.Errorf("%w at word %d", ErrTruncated, pc)
		}
		args := words[pc+1 : pc+count]
		switch op {
		case opName:
			if len(args) >= 2 {
				names[args[0]], _ = decodeString(args[1:])
			}
		case opEntryPoint:
			if len(args) >= 3 {
				name, _ := decodeString(args[2:])
				m.EntryPoints = append(m.EntryPoints, EntryPoint{
					Name:  name,
					Model: ExecutionModel(args[0]),
					id:    args[1],
				})
			}
		case opExecutionMode:
			if len(args) >= 5 && args[1] == modeLocalSize {
				modes[args[0]] = [3]uint32{args[2], args[3], args[4]}
			}
		case opDecorate:
			if len(args) < 2 {
				break
			}
			switch args[1] {
			case decoBinding:
				if len(args) >= 3 {
					slots[args[0]] = args[2]
				}
			case decoDescriptorSet:
				if len(args) >= 3 {
					sets[args[0]] = args[2]
				}
			case decoBufferBlock:
				blocks[args[0]] = true
			}
		case opTypePointer:
			if len(args) >= 3 {
				pointers[args[0]] = pointerType{class: StorageClass(args[1]), pointee: args[2]}
			}
		case opVariable:
			if len(args) >= 3 {
				vars = append(vars, variable{typeID: args[0], id: args[1], class: StorageClass(args[2])})
			}
		}
		pc += count
	}

	for i := range m.EntryPoints {
		if ls, ok := modes[m.EntryPoints[i].id]; ok {
			m.EntryPoints[i].LocalSize = ls
		}
	}
	for _, v := range vars {
		slot, ok := slots[v.id]
		if !ok {
			continue
		}
		b := Binding{
			Name:  names[v.id],
			Set:   sets[v.id],
			Slot:  slot,
			Class: v.class,
		}
		if pt, ok := pointers[v.typeID]; ok {
			b.BufferBlock = blocks[pt.pointee]
		}
		m.Bindings = append(m.Bindings, b)
	}
	return m, nil
}
