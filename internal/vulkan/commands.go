//go:build cgo

package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/san-kum/nbodyvk/internal/hal"
)

type commandPool struct {
	dev    *device
	handle vk.CommandPool
}

// CreateCommandPool creates a pool whose buffers can be reset one at a time.
func (d *device) CreateCommandPool(family uint32) (hal.CommandPool, error) {
	var p vk.CommandPool
	ret := vk.CreateCommandPool(d.handle, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &p)
	if err := result("create command pool", ret); err != nil {
		return nil, err
	}
	return &commandPool{dev: d, handle: p}, nil
}

func (p *commandPool) Allocate() (hal.CommandBuffer, error) {
	bufs := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(p.dev.handle, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs)
	if err := result("allocate command buffer", ret); err != nil {
		return nil, err
	}
	return &commandBuffer{handle: bufs[0]}, nil
}

func (p *commandPool) Destroy() {
	if p.handle == vk.NullCommandPool {
		return
	}
	vk.DestroyCommandPool(p.dev.handle, p.handle, nil)
	p.handle = vk.NullCommandPool
}

type commandBuffer struct {
	handle vk.CommandBuffer
}

func (c *commandBuffer) Reset() error {
	return result("reset command buffer", vk.ResetCommandBuffer(c.handle, 0))
}

func (c *commandBuffer) Begin() error {
	return result("begin command buffer", vk.BeginCommandBuffer(c.handle, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
}

func (c *commandBuffer) BindPipeline(p hal.Pipeline) {
	if vp, ok := p.(*pipeline); ok {
		vk.CmdBindPipeline(c.handle, vk.PipelineBindPointCompute, vp.handle)
	}
}

func (c *commandBuffer) BindSet(layout hal.PipelineLayout, set hal.BindingSet) {
	pl, ok := layout.(*pipelineLayout)
	if !ok {
		return
	}
	bs, ok := set.(*bindingSet)
	if !ok {
		return
	}
	vk.CmdBindDescriptorSets(c.handle, vk.PipelineBindPointCompute, pl.handle,
		0, 1, []vk.DescriptorSet{bs.handle}, 0, nil)
}

func (c *commandBuffer) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(c.handle, x, y, z)
}

func (c *commandBuffer) End() error {
	return result("end command buffer", vk.EndCommandBuffer(c.handle))
}

type queue struct {
	dev    *device
	handle vk.Queue
}

func (q *queue) Submit(cmd hal.CommandBuffer, f hal.Fence) error {
	cb, ok := cmd.(*commandBuffer)
	if !ok {
		return fmt.Errorf("vulkan: submit foreign command buffer: %w", hal.ErrValidation)
	}
	fence := vk.NullFence
	if f != nil {
		vf, ok := f.(*fenceObj)
		if !ok {
			return fmt.Errorf("vulkan: submit with foreign fence: %w", hal.ErrValidation)
		}
		fence = vf.handle
	}
	ret := vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.handle},
	}}, fence)
	return result("queue submit", ret)
}

func (q *queue) WaitIdle() error {
	return result("queue wait idle", vk.QueueWaitIdle(q.handle))
}

type fenceObj struct {
	dev    *device
	handle vk.Fence
}

// CreateFence creates an unsignaled fence.
func (d *device) CreateFence() (hal.Fence, error) {
	var f vk.Fence
	ret := vk.CreateFence(d.handle, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &f)
	if err := result("create fence", ret); err != nil {
		return nil, err
	}
	return &fenceObj{dev: d, handle: f}, nil
}

func (f *fenceObj) Wait(timeout time.Duration) error {
	ns := uint64(timeout.Nanoseconds())
	if timeout < 0 {
		ns = ^uint64(0)
	}
	return result("wait for fence", vk.WaitForFences(f.dev.handle, 1, []vk.Fence{f.handle}, vk.True, ns))
}

func (f *fenceObj) Reset() error {
	return result("reset fence", vk.ResetFences(f.dev.handle, 1, []vk.Fence{f.handle}))
}

func (f *fenceObj) Destroy() {
	if f.handle == vk.NullFence {
		return
	}
	vk.DestroyFence(f.dev.handle, f.handle, nil)
	f.handle = vk.NullFence
}
