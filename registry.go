package dytor

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"gopkg.in/yaml.v3"

	"github.com/scaredginger/dytor/internal/arena"
)

// regNode is one registration record in the process-wide list. Records are
// linked with a compare-exchange so that package init functions from any
// number of translation units can register concurrently; the list is walked
// exactly once, when the registry is frozen on first use.
type regNode struct {
	install func(b *registryBuilder) error
	next    *regNode
}

var regHead atomic.Pointer[regNode]

// pushRegNode links a registration record onto the global list.
func pushRegNode(n *regNode) {
	for {
		old := regHead.Load()
		n.next = old
		if regHead.CompareAndSwap(old, n) {
			return
		}
	}
}

// vtable is everything the runtime knows about one registered actor type:
// identity, layout, constructor, destructor support, and the config decoder.
type vtable struct {
	// name is the unique registered name, referenced by config typenames.
	name string

	// typ is the concrete struct type of the actor.
	typ reflect.Type

	// layout caches the type's size and alignment for arena packing.
	layout arena.Layout

	// self wraps a raw slot address into a *T handle boxed as any.
	self func(p unsafe.Pointer) any

	// construct decodes nothing itself; it casts the slot, asserts the
	// Actor capability, and runs Init with the already-decoded config.
	construct func(args *InitArgs, slot unsafe.Pointer, cfg any) error

	// deserialize decodes an opaque config payload into the actor's
	// config type, returning an owned *C boxed as any.
	deserialize func(node *yaml.Node) (any, error)
}

// ifaceImpl records that a concrete actor type implements an interface,
// together with the conversion thunk that forms an interface value from a
// raw slot address. This is the runtime's stand-in for dispatch-table
// metadata: the thunk bakes in the concrete type, so applying it to an arena
// offset yields a ready-to-call interface handle.
type ifaceImpl struct {
	concrete reflect.Type
	convert  func(p unsafe.Pointer) any
}

// IfaceImpl declares one (interface, concrete type) implementation pair for
// registration. Construct values with Implements.
type IfaceImpl struct {
	iface    reflect.Type
	concrete reflect.Type
	convert  func(p unsafe.Pointer) any
}

// Implements declares that *T satisfies the interface I, for use in a
// Register call. It panics immediately if I is not an interface type or *T
// does not implement it, so a bad declaration fails at process init rather
// than at first lookup.
func Implements[I any, T any]() IfaceImpl {
	ifaceType := reflect.TypeOf((*I)(nil)).Elem()
	if ifaceType.Kind() != reflect.Interface {
		panic(fmt.Sprintf("dytor: Implements type parameter %v is "+
			"not an interface", ifaceType))
	}
	if _, ok := any((*T)(nil)).(I); !ok {
		panic(fmt.Sprintf("dytor: %v does not implement %v",
			reflect.TypeOf((*T)(nil)), ifaceType))
	}

	return IfaceImpl{
		iface:    ifaceType,
		concrete: reflect.TypeOf((*T)(nil)).Elem(),
		convert: func(p unsafe.Pointer) any {
			var i I = any((*T)(p)).(I)
			return i
		},
	}
}

// Register records the actor type T, with configuration payload type C,
// under the given unique name. It is intended to be called from a package
// init function; the record takes effect when the registry is frozen on the
// first Run. Duplicate names or types are reported as fatal startup errors
// at that point.
//
// *T must implement Actor[C]; Register panics otherwise, so the mistake
// surfaces at process init.
func Register[T any, C any](name string, impls ...IfaceImpl) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if _, ok := any((*T)(nil)).(Actor[C]); !ok {
		panic(fmt.Sprintf("dytor: *%v does not implement "+
			"Actor[%v]", typ, reflect.TypeOf((*C)(nil)).Elem()))
	}
	for _, impl := range impls {
		if impl.concrete != typ {
			panic(fmt.Sprintf("dytor: interface declaration for "+
				"%v attached to registration of %v",
				impl.concrete, typ))
		}
	}

	pushRegNode(&regNode{
		install: func(b *registryBuilder) error {
			return installActor[T, C](b, name, impls)
		},
	})
}

// RegisterResource records a process-wide shared value constructed lazily on
// first lookup. Actors retrieve it during init via Resource. Registering the
// same resource type twice is a fatal startup error.
func RegisterResource[T any](ctor func() T) {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	pushRegNode(&regNode{
		install: func(b *registryBuilder) error {
			if _, ok := b.resources[typ]; ok {
				return fmt.Errorf("dytor: resource %v "+
					"registered twice", typ)
			}
			b.resources[typ] = &resourceCell{
				ctor: func() any { return ctor() },
			}
			return nil
		},
	})
}

// installActor builds the vtable for T and adds it to the builder.
func installActor[T any, C any](b *registryBuilder, name string,
	impls []IfaceImpl,
) error {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	if _, ok := b.byType[typ]; ok {
		return fmt.Errorf("dytor: actor type %v registered twice", typ)
	}
	if _, ok := b.byName[name]; ok {
		return fmt.Errorf("dytor: actor name %q registered twice", name)
	}

	vt := &vtable{
		name:   name,
		typ:    typ,
		layout: arena.LayoutOf(typ),
		self: func(p unsafe.Pointer) any {
			return (*T)(p)
		},
		construct: func(args *InitArgs, slot unsafe.Pointer,
			cfg any,
		) error {
			a := any((*T)(slot)).(Actor[C])
			return a.Init(args, *(cfg.(*C)))
		},
		deserialize: func(node *yaml.Node) (any, error) {
			c := new(C)
			if node != nil && node.Kind != 0 {
				if err := node.Decode(c); err != nil {
					return nil, err
				}
			}
			return c, nil
		},
	}

	b.byType[typ] = vt
	b.byName[name] = vt
	for _, impl := range impls {
		b.ifaceImpls[impl.iface] = append(
			b.ifaceImpls[impl.iface], ifaceImpl{
				concrete: impl.concrete,
				convert:  impl.convert,
			},
		)
	}

	return nil
}

// resourceCell holds one lazily constructed shared resource.
type resourceCell struct {
	once  sync.Once
	value any
	ctor  func() any
}

func (c *resourceCell) get() any {
	c.once.Do(func() {
		c.value = c.ctor()
	})
	return c.value
}

// registryBuilder accumulates registration records before the freeze.
type registryBuilder struct {
	byType     map[reflect.Type]*vtable
	byName     map[string]*vtable
	ifaceImpls map[reflect.Type][]ifaceImpl
	resources  map[reflect.Type]*resourceCell
}

// registry is the frozen, process-wide table of actor types, their vtables,
// and their interface implementations. It is immutable after assembly and
// shared across all contexts.
type registry struct {
	byType     map[reflect.Type]*vtable
	byName     map[string]*vtable
	ifaceImpls map[reflect.Type][]ifaceImpl
	resources  map[reflect.Type]*resourceCell
}

var (
	registryOnce   sync.Once
	frozenRegistry *registry
	registryErr    error
)

// getRegistry walks the registration list exactly once, invokes every
// record's installer, and freezes the result. Installer errors (duplicate
// registrations) are remembered and surface from every subsequent call.
func getRegistry() (*registry, error) {
	registryOnce.Do(func() {
		b := &registryBuilder{
			byType:     make(map[reflect.Type]*vtable),
			byName:     make(map[string]*vtable),
			ifaceImpls: make(map[reflect.Type][]ifaceImpl),
			resources:  make(map[reflect.Type]*resourceCell),
		}

		for n := regHead.Load(); n != nil; n = n.next {
			if err := n.install(b); err != nil {
				registryErr = err
				return
			}
		}

		frozenRegistry = &registry{
			byType:     b.byType,
			byName:     b.byName,
			ifaceImpls: b.ifaceImpls,
			resources:  b.resources,
		}
	})

	return frozenRegistry, registryErr
}

// lookupName resolves a configured typename to its vtable.
func (r *registry) lookupName(name string) (*vtable, error) {
	vt, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("dytor: unknown actor type %q", name)
	}
	return vt, nil
}

// RegisteredActor describes one registered actor type, for diagnostics.
type RegisteredActor struct {
	// Name is the unique registered name.
	Name string

	// Type is the concrete Go type.
	Type string

	// Interfaces lists the declared interface implementations.
	Interfaces []string
}

// RegisteredActors returns a description of every registered actor type,
// sorted by name. It freezes the registry if that has not happened yet.
func RegisteredActors() ([]RegisteredActor, error) {
	reg, err := getRegistry()
	if err != nil {
		return nil, err
	}

	byConcrete := make(map[reflect.Type][]string)
	for iface, impls := range reg.ifaceImpls {
		for _, impl := range impls {
			byConcrete[impl.concrete] = append(
				byConcrete[impl.concrete], iface.String(),
			)
		}
	}

	out := make([]RegisteredActor, 0, len(reg.byName))
	for name, vt := range reg.byName {
		ifaces := append([]string(nil), byConcrete[vt.typ]...)
		sort.Strings(ifaces)
		out = append(out, RegisteredActor{
			Name:       name,
			Type:       vt.typ.String(),
			Interfaces: ifaces,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out, nil
}
