package compute

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/nbodyvk/internal/hal"
	"github.com/san-kum/nbodyvk/internal/spirv"
)

// Role names what a binding slot carries.
type Role string

const (
	RoleParams Role = "params"
	RoleOutput Role = "output"
	RoleInput  Role = "input"
)

func (r Role) kind() hal.DescriptorKind {
	if r == RoleParams {
		return hal.DescriptorUniformBuffer
	}
	return hal.DescriptorStorageBuffer
}

type SlotSpec struct {
	Role Role
	Slot uint32
	Kind hal.DescriptorKind
}

// BindingSchema is the versioned slot table agreed between the engine and
// the kernel.
type BindingSchema struct {
	Version int
	Slots   []SlotSpec
}

// SchemaV1 binds the uniform parameters at 0, the output particles at 1 and
// the input particles at 2, all in descriptor set 0.
var SchemaV1 = BindingSchema{
	Version: 1,
	Slots: []SlotSpec{
		{Role: RoleParams, Slot: 0, Kind: hal.DescriptorUniformBuffer},
		{Role: RoleOutput, Slot: 1, Kind: hal.DescriptorStorageBuffer},
		{Role: RoleInput, Slot: 2, Kind: hal.DescriptorStorageBuffer},
	},
}

func (s BindingSchema) Validate() error {
	roles := map[Role]int{}
	slots := map[uint32]Role{}
	for _, sp := range s.Slots {
		switch sp.Role {
		case RoleParams, RoleOutput, RoleInput:
		default:
			return &ConfigurationMismatch{Role: sp.Role, Slot: sp.Slot, Detail: "unknown role"}
		}
		roles[sp.Role]++
		if other, dup := slots[sp.Slot]; dup {
			return &ConfigurationMismatch{Role: sp.Role, Slot: sp.Slot, Detail: fmt.Sprintf("slot shared with %s", other)}
		}
		slots[sp.Slot] = sp.Role
		if sp.Kind != sp.Role.kind() {
			return &ConfigurationMismatch{Role: sp.Role, Slot: sp.Slot, Detail: fmt.Sprintf("kind %s, want %s", sp.Kind, sp.Role.kind())}
		}
	}
	for _, r := range []Role{RoleParams, RoleOutput, RoleInput} {
		if roles[r] != 1 {
			return &ConfigurationMismatch{Role: r, Detail: fmt.Sprintf("role declared %d times", roles[r])}
		}
	}
	return nil
}

func (s BindingSchema) Slot(r Role) (SlotSpec, bool) {
	for _, sp := range s.Slots {
		if sp.Role == r {
			return sp, true
		}
	}
	return SlotSpec{}, false
}

func (s BindingSchema) LayoutBindings() []hal.LayoutBinding {
	out := make([]hal.LayoutBinding, len(s.Slots))
	for i, sp := range s.Slots {
		out[i] = hal.LayoutBinding{Slot: sp.Slot, Kind: sp.Kind}
	}
	return out
}

// PoolSizes is exactly one set's worth of descriptors.
func (s BindingSchema) PoolSizes() []hal.PoolSize {
	counts := map[hal.DescriptorKind]uint32{}
	for _, sp := range s.Slots {
		counts[sp.Kind]++
	}
	var out []hal.PoolSize
	for _, k := range []hal.DescriptorKind{hal.DescriptorUniformBuffer, hal.DescriptorStorageBuffer} {
		if counts[k] > 0 {
			out = append(out, hal.PoolSize{Kind: k, Count: counts[k]})
		}
	}
	return out
}

// CheckReflected compares the set 0 bindings found in a kernel against the
// schema. Every schema slot must appear with its kind and the kernel must not
// use other slots.
func (s BindingSchema) CheckReflected(bindings []spirv.Binding) error {
	found := map[uint32]spirv.Binding{}
	for _, b := range bindings {
		if b.Set != 0 {
			continue
		}
		found[b.Slot] = b
	}
	for _, sp := range s.Slots {
		b, ok := found[sp.Slot]
		if !ok {
			return &ConfigurationMismatch{Role: sp.Role, Slot: sp.Slot, Detail: "kernel does not declare the slot"}
		}
		if b.IsStorage() != (sp.Kind == hal.DescriptorStorageBuffer) {
			return &ConfigurationMismatch{Role: sp.Role, Slot: sp.Slot, Detail: fmt.Sprintf("kernel declares %q with the wrong kind", b.Name)}
		}
		delete(found, sp.Slot)
	}
	if len(found) == 0 {
		return nil
	}
	extra := make([]uint32, 0, len(found))
	for slot := range found {
		extra = append(extra, slot)
	}
	slices.Sort(extra)
	return &ConfigurationMismatch{Slot: extra[0], Detail: fmt.Sprintf("kernel declares unknown binding %q", found[extra[0]].Name)}
}

// Manifest is the optional YAML description shipped next to a kernel.
type Manifest struct {
	SchemaVersion int            `yaml:"schema_version"`
	EntryPoint    string         `yaml:"entry_point,omitempty"`
	LocalSize     uint32         `yaml:"local_size,omitempty"`
	Slots         []ManifestSlot `yaml:"slots"`
}

type ManifestSlot struct {
	Role string `yaml:"role"`
	Slot uint32 `yaml:"slot"`
	Kind string `yaml:"kind"`
}

// ManifestPath is the manifest location for a kernel: the kernel path with
// its extension replaced by .yaml.
func ManifestPath(kernelPath string) string {
	return strings.TrimSuffix(kernelPath, filepath.Ext(kernelPath)) + ".yaml"
}

// LoadManifest reads the manifest for a kernel. A missing manifest returns
// nil and no error.
func LoadManifest(kernelPath string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(kernelPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("compute: parse manifest: %w", err)
	}
	return &m, nil
}

func (s BindingSchema) CheckManifest(m *Manifest) error {
	if m.SchemaVersion != s.Version {
		return &ConfigurationMismatch{Detail: fmt.Sprintf("manifest schema version %d, engine speaks %d", m.SchemaVersion, s.Version)}
	}
	if len(m.Slots) != len(s.Slots) {
		return &ConfigurationMismatch{Detail: fmt.Sprintf("manifest declares %d slots, schema has %d", len(m.Slots), len(s.Slots))}
	}
	for _, ms := range m.Slots {
		sp, ok := s.Slot(Role(ms.Role))
		if !ok {
			return &ConfigurationMismatch{Role: Role(ms.Role), Slot: ms.Slot, Detail: "unknown role in manifest"}
		}
		if sp.Slot != ms.Slot {
			return &ConfigurationMismatch{Role: sp.Role, Slot: ms.Slot, Detail: fmt.Sprintf("manifest slot, schema uses %d", sp.Slot)}
		}
		if ms.Kind != sp.Kind.String() {
			return &ConfigurationMismatch{Role: sp.Role, Slot: ms.Slot, Detail: fmt.Sprintf("manifest kind %q, want %q", ms.Kind, sp.Kind)}
		}
	}
	return nil
}
