package compute

import (
	"errors"
	"fmt"

	"github.com/san-kum/nbodyvk/internal/hal"
)

// BindingTable is the single binding set tying the engine buffers to the
// kernel's slots. It is written once and never reallocated.
type BindingTable struct {
	pool hal.BindingPool
	set  hal.BindingSet
}

// BuildBindingTable allocates one set sized exactly for the kernel's schema
// and points every slot at its buffer.
func BuildBindingTable(d *Device, k *Kernel, r *Resources) (*BindingTable, error) {
	schema := k.Schema()
	pool, err := d.Handle().CreateBindingPool(schema.PoolSizes(), 1)
	if err != nil {
		return nil, fmt.Errorf("%w: create pool: %w", ErrBindingAllocation, err)
	}
	bt := &BindingTable{pool: pool}

	if bt.set, err = pool.Allocate(k.layout); err != nil {
		bt.Destroy()
		return nil, fmt.Errorf("%w: %w", ErrBindingAllocation, err)
	}

	writes := make([]hal.BufferBinding, 0, len(schema.Slots))
	for _, sp := range schema.Slots {
		reg := r.region(sp.Role)
		if reg == nil {
			bt.Destroy()
			return nil, &ConfigurationMismatch{Role: sp.Role, Slot: sp.Slot, Detail: "no buffer for role"}
		}
		writes = append(writes, hal.BufferBinding{
			Slot:   sp.Slot,
			Kind:   sp.Kind,
			Buffer: reg.buf,
			Range:  reg.size,
		})
	}
	if err := bt.set.Write(writes); err != nil {
		bt.Destroy()
		if errors.Is(err, hal.ErrValidation) {
			return nil, &ConfigurationMismatch{Detail: "binding set write", Err: err}
		}
		return nil, fmt.Errorf("write binding set: %w", err)
	}
	return bt, nil
}

// Destroy releases the pool, which frees the set with it.
func (bt *BindingTable) Destroy() {
	if bt.pool != nil {
		bt.pool.Destroy()
		bt.pool = nil
		bt.set = nil
	}
}
