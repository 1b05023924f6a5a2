package spirv

// Builder emits interface-only modules: capabilities, memory model, entry
// points, workgroup sizes and decorated resource variables. The result
// carries no function bodies, so it is only meaningful to Parse and to
// drivers that key kernels by entry point name.
type Builder struct {
	version uint32
	next    uint32
	entries []builderEntry
	vars    []builderVar
}

type builderEntry struct {
	name      string
	localSize [3]uint32
}

type builderVar struct {
	name   string
	set    uint32
	slot   uint32
	class  StorageClass
	legacy bool
}

func NewBuilder() *Builder {
	return &Builder{version: Version13, next: 1}
}

func (b *Builder) Version(v uint32) *Builder {
	b.version = v
	return b
}

func (b *Builder) EntryPoint(name string, localSize [3]uint32) *Builder {
	b.entries = append(b.entries, builderEntry{name: name, localSize: localSize})
	return b
}

func (b *Builder) Uniform(name string, set, slot uint32) *Builder {
	b.vars = append(b.vars, builderVar{name: name, set: set, slot: slot, class: StorageUniform})
	return b
}

func (b *Builder) Storage(name string, set, slot uint32) *Builder {
	b.vars = append(b.vars, builderVar{name: name, set: set, slot: slot, class: StorageBuffer})
	return b
}

// LegacyStorage declares a storage buffer the way SPIR-V 1.0 does, as a
// Uniform class variable whose block carries BufferBlock.
func (b *Builder) LegacyStorage(name string, set, slot uint32) *Builder {
	b.vars = append(b.vars, builderVar{name: name, set: set, slot: slot, class: StorageUniform, legacy: true})
	return b
}

func (b *Builder) id() uint32 {
	id := b.next
	b.next++
	return id
}

func inst(op opcode, args ...uint32) []uint32 {
	return append([]uint32{uint32(len(args)+1)<<16 | uint32(op)}, args...)
}

func (b *Builder) Words() []uint32 {
	b.next = 1
	entryIDs := make([]uint32, len(b.entries))
	for i := range b.entries {
		entryIDs[i] = b.id()
	}
	floatID := b.id()
	type varIDs struct{ block, ptr, v uint32 }
	ids := make([]varIDs, len(b.vars))
	for i := range b.vars {
		ids[i] = varIDs{block: b.id(), ptr: b.id(), v: b.id()}
	}

	var body []uint32
	body = append(body, inst(opCapability, 1)...)
	body = append(body, inst(opMemoryModel, 0, 1)...)
	for i, e := range b.entries {
		args := append([]uint32{uint32(ModelGLCompute), entryIDs[i]}, encodeString(e.name)...)
		body = append(body, inst(opEntryPoint, args...)...)
	}
	for i, e := range b.entries {
		body = append(body, inst(opExecutionMode, entryIDs[i], modeLocalSize,
			e.localSize[0], e.localSize[1], e.localSize[2])...)
	}
	for i, v := range b.vars {
		body = append(body, inst(opName, append([]uint32{ids[i].v}, encodeString(v.name)...)...)...)
	}
	for i, v := range b.vars {
		body = append(body, inst(opDecorate, ids[i].v, decoDescriptorSet, v.set)...)
		body = append(body, inst(opDecorate, ids[i].v, decoBinding, v.slot)...)
		if v.legacy {
			body = append(body, inst(opDecorate, ids[i].block, decoBufferBlock)...)
		}
	}
	body = append(body, inst(opTypeFloat, floatID, 32)...)
	for i, v := range b.vars {
		body = append(body, inst(opTypeStruct, ids[i].block, floatID)...)
		body = append(body, inst(opTypePointer, ids[i].ptr, uint32(v.class), ids[i].block)...)
		body = append(body, inst(opVariable, ids[i].ptr, ids[i].v, uint32(v.class))...)
	}

	header := []uint32{Magic, b.version, toolGenerator, b.next, 0}
	return append(header, body...)
}

func (b *Builder) Bytes() []byte {
	return Bytes(b.Words())
}
