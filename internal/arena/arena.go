// Package arena implements the per-context storage buffer into which all
// actors scheduled on a context are placed. Every actor occupies a slot at a
// fixed byte offset inside one contiguous allocation, which keeps broadcast
// iteration cache friendly and lets a reference to an actor travel between
// contexts as a small (context, offset) pair with no lifetime bookkeeping.
//
// Offsets are computed with a deterministic first-fit bump algorithm over the
// slot layouts, in layout order. The backing memory is a single dynamically
// built struct (reflect.StructOf with explicit padding fields) rather than a
// raw byte slice, so the garbage collector scans pointer fields inside actor
// slots correctly. Go's collector does not move heap objects, which gives the
// pinning guarantee the runtime relies on: for a given offset, the raw slot
// address is constant from construction to destruction.
package arena

import (
	"fmt"
	"reflect"
	"unsafe"
)

// Offset identifies a slot within an arena as a byte distance from the base
// address. Offsets are stable for the lifetime of the arena.
type Offset uint32

// Layout describes the size and alignment requirements of one slot. It is the
// pure-data input to offset computation, decoupled from reflect so that the
// packing algorithm can be tested exhaustively on synthetic inputs.
type Layout struct {
	// Size is the slot size in bytes.
	Size uintptr

	// Align is the required alignment of the slot. Must be a power of two
	// and at least 1.
	Align uintptr
}

// LayoutOf returns the layout of a concrete type.
func LayoutOf(typ reflect.Type) Layout {
	return Layout{
		Size:  typ.Size(),
		Align: uintptr(typ.Align()),
	}
}

// ComputeOffsets walks layouts left to right, bumping a cursor and inserting
// alignment padding so that each slot satisfies its alignment requirement. It
// returns the offset of every slot plus the total capacity needed. The result
// is deterministic given the layout order.
func ComputeOffsets(layouts []Layout) ([]Offset, uintptr) {
	offsets := make([]Offset, 0, len(layouts))

	var cursor uintptr
	for _, l := range layouts {
		align := l.Align
		if align < 1 {
			align = 1
		}

		// Round the cursor up to the next aligned address.
		off := (cursor + align - 1) &^ (align - 1)
		offsets = append(offsets, Offset(off))
		cursor = off + l.Size
	}

	return offsets, cursor
}

// Arena is one contiguous buffer holding every actor of a context. The arena
// owns the bytes only; constructing and destroying the individual slots is
// the owning context's responsibility. An arena may be handed between
// goroutines until the first slot is constructed, after which it is pinned to
// the context that owns it.
type Arena struct {
	// base is the address of the first slot.
	base unsafe.Pointer

	// backing keeps the generated struct allocation reachable so the
	// garbage collector neither frees nor ignores it. Cleared by Release.
	backing reflect.Value

	// capacity is the total usable size in bytes.
	capacity uintptr

	// offsets records the slot offsets in construction order.
	offsets []Offset

	// types records each slot's concrete type, parallel to offsets.
	types []reflect.Type
}

// FromTypes allocates a single buffer sized for the given slot types and
// returns the arena together with the byte offset of every slot. Slot i in
// the returned offsets corresponds to types[i].
//
// The buffer is materialized as an anonymous struct whose field offsets equal
// the offsets produced by ComputeOffsets, with [n]byte padding fields filling
// the alignment gaps. The two layout computations agree because Go packs
// struct fields with the same first-fit bump rule; the constructor verifies
// this and fails loudly on divergence rather than handing out offsets that
// point into padding.
func FromTypes(types []reflect.Type) (*Arena, []Offset, error) {
	layouts := make([]Layout, len(types))
	for i, typ := range types {
		layouts[i] = LayoutOf(typ)
	}
	offsets, capacity := ComputeOffsets(layouts)

	fields := make([]reflect.StructField, 0, 2*len(types))
	var cursor uintptr
	for i, typ := range types {
		if pad := uintptr(offsets[i]) - cursor; pad > 0 {
			fields = append(fields, reflect.StructField{
				Name: fmt.Sprintf("Pad%d", i),
				Type: reflect.ArrayOf(int(pad), byteType),
			})
		}
		fields = append(fields, reflect.StructField{
			Name: fmt.Sprintf("Slot%d", i),
			Type: typ,
		})
		cursor = uintptr(offsets[i]) + typ.Size()
	}

	structType := reflect.StructOf(fields)
	backing := reflect.New(structType)

	a := &Arena{
		base:     backing.UnsafePointer(),
		backing:  backing,
		capacity: structType.Size(),
		offsets:  offsets,
		types:    types,
	}
	if a.capacity < capacity {
		return nil, nil, fmt.Errorf("arena: generated buffer holds "+
			"%d bytes, packing requires %d", a.capacity, capacity)
	}

	// The generated field offsets must match the computed ones exactly.
	slot := 0
	for i := 0; i < structType.NumField(); i++ {
		f := structType.Field(i)
		if len(f.Name) >= 3 && f.Name[:3] == "Pad" {
			continue
		}
		if f.Offset != uintptr(offsets[slot]) {
			return nil, nil, fmt.Errorf("arena: slot %d placed at "+
				"offset %d, expected %d", slot, f.Offset,
				offsets[slot])
		}
		slot++
	}

	return a, offsets, nil
}

var byteType = reflect.TypeOf(byte(0))

// Capacity returns the total size of the arena in bytes.
func (a *Arena) Capacity() uintptr {
	return a.capacity
}

// Pointer returns the raw address of the slot at the given offset. This is
// the hot-path accessor used for pointer reconstitution; it performs no
// checking beyond what the type system already guarantees.
func (a *Arena) Pointer(off Offset) unsafe.Pointer {
	return unsafe.Add(a.base, uintptr(off))
}

// Slot returns the address of a slot after verifying that the requested
// layout fits inside the arena at the given offset and that the offset
// satisfies the layout's alignment. Construction paths use this; message
// dispatch uses Pointer.
func (a *Arena) Slot(off Offset, layout Layout) (unsafe.Pointer, error) {
	if uintptr(off)+layout.Size > a.capacity {
		return nil, fmt.Errorf("arena: slot [%d, %d) exceeds capacity %d",
			off, uintptr(off)+layout.Size, a.capacity)
	}
	if layout.Align > 1 && uintptr(off)&(layout.Align-1) != 0 {
		return nil, fmt.Errorf("arena: offset %d not aligned to %d",
			off, layout.Align)
	}

	return a.Pointer(off), nil
}

// ZeroSlot clears the slot at the given index, releasing any heap references
// the slot's value holds. The context calls this for each actor, in reverse
// construction order, as part of its drop sequence.
func (a *Arena) ZeroSlot(i int) {
	typ := a.types[i]
	ptr := a.Pointer(a.offsets[i])
	reflect.NewAt(typ, ptr).Elem().SetZero()
}

// Release drops the arena's hold on the backing buffer. Callers must not use
// any slot pointer afterwards. Per-slot destructors are not run here; that is
// the owning context's job before it releases the arena.
func (a *Arena) Release() {
	a.base = nil
	a.backing = reflect.Value{}
	a.offsets = nil
	a.types = nil
	a.capacity = 0
}
