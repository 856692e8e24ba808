package dytor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scaredginger/dytor/config"
)

// lkNamed is the probe scenario's interface; two concrete types implement
// it.
type lkNamed interface {
	TagName() string
}

type lkTargetCfg struct {
	Tag string `yaml:"tag"`
}

// lkTarget is a concrete actor type instantiated in both contexts.
type lkTarget struct {
	tag string
}

func (a *lkTarget) Init(_ *InitArgs, cfg lkTargetCfg) error {
	a.tag = cfg.Tag
	return nil
}

func (a *lkTarget) TagName() string {
	return a.tag
}

// lkOther is a second implementor of lkNamed, living in context 2.
type lkOther struct{}

func (a *lkOther) Init(_ *InitArgs, _ struct{}) error {
	return nil
}

func (a *lkOther) TagName() string {
	return "other"
}

// lkLocalDep is the probe's legitimate same-context direct dependency.
type lkLocalDep struct{}

func (a *lkLocalDep) Init(_ *InitArgs, _ struct{}) error {
	return nil
}

// lkNever is registered but never configured, so lookups match nothing.
type lkNever struct{}

func (a *lkNever) Init(_ *InitArgs, _ struct{}) error {
	return nil
}

var lkBoard board

// lkProbe runs every lookup flavor during its init and records the results.
type lkProbe struct{}

func (a *lkProbe) Init(args *InitArgs, _ struct{}) error {
	// Concrete lookup: both lkTarget instances, tree order.
	for id, key := range Lookup[*lkTarget](args).AllKeys() {
		lkBoard.add(fmt.Sprintf("type:%d@ctx%d", id, key.ContextID()))
	}

	// Interface lookup: every lkNamed implementor, tree order.
	for id, key := range Lookup[lkNamed](args).AllKeys() {
		lkBoard.add(fmt.Sprintf("iface:%d@ctx%d", id, key.ContextID()))
	}

	// A unique same-context match succeeds and records an edge.
	if _, err := Lookup[*lkLocalDep](args).AcyclicLocalKey(); err != nil {
		return err
	}
	lkBoard.add("localdep:ok")

	// Zero matches.
	_, err := Lookup[*lkNever](args).AcyclicLocalKey()
	lkBoard.add(fmt.Sprintf("none:%v", err != nil))

	// Multiple matches.
	_, err = Lookup[lkNamed](args).AcyclicLocalKey()
	lkBoard.add(fmt.Sprintf("multi:%v", err != nil))

	// Cross-context match.
	_, err = Lookup[*lkOther](args).AcyclicLocalKey()
	lkBoard.add(fmt.Sprintf("cross:%v", err != nil))

	// Self match.
	_, err = Lookup[*lkProbe](args).AcyclicLocalKey()
	lkBoard.add(fmt.Sprintf("self:%v", err != nil))

	return nil
}

func init() {
	Register[lkTarget, lkTargetCfg]("lk-target",
		Implements[lkNamed, lkTarget]())
	Register[lkOther, struct{}]("lk-other",
		Implements[lkNamed, lkOther]())
	Register[lkLocalDep, struct{}]("lk-localdep")
	Register[lkNever, struct{}]("lk-never")
	Register[lkProbe, struct{}]("lk-probe")
}

const lkYAML = `
root:
  actors:
    - typename: lk-target
      config: {tag: remote}
      context: 2
    - typename: lk-localdep
      config: {}
      context: 1
    - typename: lk-probe
      config: {}
      context: 1
    - typename: lk-target
      config: {tag: local}
      context: 1
    - typename: lk-other
      config: {}
      context: 2
contexts:
  - id: 1
  - id: 2
`

// TestLookupEnumerationAndDirectKeys drives every lookup flavor through a
// two-context run. Enumeration must follow actor-tree insertion order:
// partition order first, config order within each partition — not config
// order globally and not alphabetical.
func TestLookupEnumerationAndDirectKeys(t *testing.T) {
	lkBoard.reset()

	cfg, err := config.Parse([]byte(lkYAML))
	require.NoError(t, err)
	require.NoError(t, Run(cfg))

	require.Equal(t, []string{
		// Context 1's partition (ids 2, 3, 4) precedes context 2's
		// (ids 1, 5).
		"type:4@ctx1",
		"type:1@ctx2",
		"iface:4@ctx1",
		"iface:1@ctx2",
		"iface:5@ctx2",
		"localdep:ok",
		"none:true",
		"multi:true",
		"cross:true",
		"self:true",
	}, lkBoard.snapshot())
}

// TestRegisteredActorsListing verifies the diagnostic listing covers the
// probe scenario's registrations with their interface declarations.
func TestRegisteredActorsListing(t *testing.T) {
	t.Parallel()

	actors, err := RegisteredActors()
	require.NoError(t, err)

	byName := make(map[string]RegisteredActor)
	for _, a := range actors {
		byName[a.Name] = a
	}

	target, ok := byName["lk-target"]
	require.True(t, ok)
	require.Contains(t, target.Type, "lkTarget")
	require.Len(t, target.Interfaces, 1)
	require.Contains(t, target.Interfaces[0], "lkNamed")

	dep, ok := byName["lk-localdep"]
	require.True(t, ok)
	require.Empty(t, dep.Interfaces)
}

// TestImplementsRejectsNonInterface verifies the declaration helper panics
// when its first type parameter is not an interface.
func TestImplementsRejectsNonInterface(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		Implements[lkTarget, lkTarget]()
	})
}

// TestRunRejectsUnknownTypename verifies startup fails when a configured
// typename has no registration.
func TestRunRejectsUnknownTypename(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(`
root:
  actors:
    - typename: no-such-actor
      config: {}
      context: 1
contexts:
  - id: 1
`))
	require.NoError(t, err)

	err = Run(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown actor type")
}
