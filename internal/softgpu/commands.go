package softgpu

import (
	"errors"
	"fmt"
	"time"

	"github.com/san-kum/nbodyvk/internal/hal"
)

type cmdState int

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	// cmdInvalid follows a one-time submission until the buffer is reset.
	cmdInvalid
)

type commandPool struct {
	handle
	dev *device
}

func (p *commandPool) Allocate() (hal.CommandBuffer, error) {
	if p.gone {
		return nil, fmt.Errorf("%w: command pool destroyed", hal.ErrValidation)
	}
	return &commandBuffer{pool: p}, nil
}

func (p *commandPool) Destroy() { p.release(p.dev) }

type command struct {
	pipeline *pipeline
	set      *bindingSet
	layout   *pipelineLayout
	groups   [3]uint32
	dispatch bool
}

type commandBuffer struct {
	pool  *commandPool
	state cmdState
	cmds  []command
	err   error
}

func (c *commandBuffer) Reset() error {
	c.state = cmdInitial
	c.cmds = c.cmds[:0]
	c.err = nil
	return nil
}

func (c *commandBuffer) Begin() error {
	if c.state != cmdInitial {
		return fmt.Errorf("%w: begin on a command buffer that was not reset", hal.ErrValidation)
	}
	c.state = cmdRecording
	return nil
}

func (c *commandBuffer) record(cmd command) {
	if c.state != cmdRecording {
		c.err = errors.Join(c.err, fmt.Errorf("%w: command recorded outside begin/end", hal.ErrValidation))
		return
	}
	c.cmds = append(c.cmds, cmd)
}

func (c *commandBuffer) BindPipeline(p hal.Pipeline) {
	pp, _ := p.(*pipeline)
	c.record(command{pipeline: pp})
}

func (c *commandBuffer) BindSet(layout hal.PipelineLayout, set hal.BindingSet) {
	pl, _ := layout.(*pipelineLayout)
	s, _ := set.(*bindingSet)
	c.record(command{layout: pl, set: s})
}

func (c *commandBuffer) Dispatch(x, y, z uint32) {
	c.record(command{groups: [3]uint32{x, y, z}, dispatch: true})
}

func (c *commandBuffer) End() error {
	if c.state != cmdRecording {
		return fmt.Errorf("%w: end without begin", hal.ErrValidation)
	}
	if c.err != nil {
		return c.err
	}
	c.state = cmdExecutable
	return nil
}

// execute replays the recorded commands. Every failure here is what a
// validation layer would report for the same stream.
func (c *commandBuffer) execute() error {
	var (
		bound *pipeline
		set   *bindingSet
	)
	for _, cmd := range c.cmds {
		switch {
		case cmd.pipeline != nil:
			bound = cmd.pipeline
		case cmd.set != nil:
			set = cmd.set
		case cmd.dispatch:
			if bound == nil {
				return fmt.Errorf("%w: dispatch without a bound pipeline", hal.ErrValidation)
			}
			if set == nil {
				return fmt.Errorf("%w: dispatch without a bound binding set", hal.ErrValidation)
			}
			if set.layout != bound.layout.set {
				return fmt.Errorf("%w: binding set layout differs from pipeline layout", hal.ErrValidation)
			}
			inv := Invocation{
				Groups:    cmd.groups,
				LocalSize: bound.localSize,
				bindings:  map[uint32]slotData{},
			}
			for _, lb := range set.layout.bindings {
				b, ok := set.bound[lb.Slot]
				if !ok {
					return fmt.Errorf("%w: slot %d bound in layout but never written", hal.ErrValidation, lb.Slot)
				}
				buf := b.Buffer.(*buffer)
				data := buf.bytes()
				if data == nil {
					return fmt.Errorf("%w: buffer at slot %d has no memory", hal.ErrValidation, lb.Slot)
				}
				if b.Range > 0 && b.Range < uint64(len(data)) {
					data = data[:b.Range]
				}
				inv.bindings[lb.Slot] = slotData{kind: lb.Kind, data: data}
			}
			if err := bound.kernel(inv); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: malformed command", hal.ErrValidation)
		}
	}
	return nil
}

type queue struct {
	dev *device
}

func (q *queue) Submit(cmd hal.CommandBuffer, f hal.Fence) error {
	if q.dev.isLost() {
		return hal.ErrDeviceLost
	}
	if err := q.dev.drv.faults().SubmitError; err != nil {
		return err
	}
	cb, ok := cmd.(*commandBuffer)
	if !ok || cb.pool.dev != q.dev {
		return fmt.Errorf("%w: foreign command buffer", hal.ErrValidation)
	}
	if cb.state != cmdExecutable {
		return fmt.Errorf("%w: command buffer is not executable", hal.ErrValidation)
	}
	var fc *fence
	if f != nil {
		if fc, ok = f.(*fence); !ok {
			return fmt.Errorf("%w: foreign fence", hal.ErrValidation)
		}
		if fc.signaled {
			return fmt.Errorf("%w: fence already signaled", hal.ErrValidation)
		}
	}
	cb.state = cmdInvalid
	if err := cb.execute(); err != nil {
		return err
	}
	if fc != nil {
		fc.signaled = true
	}
	return nil
}

func (q *queue) WaitIdle() error { return q.dev.WaitIdle() }

type fence struct {
	handle
	dev      *device
	signaled bool
}

func (f *fence) Wait(timeout time.Duration) error {
	if f.dev.isLost() {
		return hal.ErrDeviceLost
	}
	if f.dev.drv.countWait() {
		f.dev.lose()
		return hal.ErrDeviceLost
	}
	if f.dev.drv.faults().StallWaits || !f.signaled {
		time.Sleep(timeout)
		return hal.ErrTimeout
	}
	return nil
}

func (f *fence) Reset() error {
	if f.dev.isLost() {
		return hal.ErrDeviceLost
	}
	f.signaled = false
	return nil
}

func (f *fence) Destroy() { f.release(f.dev) }
