package dytor

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scaredginger/dytor/config"
)

// ping is implemented by two unrelated concrete types in different
// contexts, exercising interface-handle reconstruction on both the local
// and remote dispatch paths.
type ping interface {
	Ping() string
}

var pingBoard board

type pingEchoCfg struct {
	Label string `yaml:"label"`
}

type pingEcho struct {
	label string
}

func (a *pingEcho) Init(_ *InitArgs, cfg pingEchoCfg) error {
	a.label = cfg.Label
	return nil
}

func (a *pingEcho) Ping() string {
	return "echo:" + a.label
}

type pingDrum struct {
	beats int
}

func (a *pingDrum) Init(_ *InitArgs, _ struct{}) error {
	return nil
}

func (a *pingDrum) Ping() string {
	a.beats++
	return fmt.Sprintf("drum:%d", a.beats)
}

type pingCaller struct{}

func (a *pingCaller) Init(args *InitArgs, _ struct{}) error {
	// Broadcast over the interface: one leg stays local, one crosses
	// contexts. The handler observes each implementor through its
	// interface handle.
	group := Lookup[ping](args).BroadcastGroup()
	Broadcast(args, group, func(_ *MainArgs, p ping) {
		pingBoard.add("cast:" + p.Ping())
	})

	// Target a single implementor through an interface-typed message.
	for _, key := range Lookup[ping](args).AllKeys() {
		SendTo(args, key, func(_ *MainArgs, p ping) {
			pingBoard.add("direct:" + p.Ping())
		})
		break
	}

	// Interface-typed accessors work from external goroutines too.
	var accs []*Accessor[ping]
	for acc := range Lookup[ping](args).AllAccessors() {
		accs = append(accs, acc)
	}
	go func() {
		for _, acc := range accs {
			acc.Send(func(_ *MainArgs, p ping) {
				pingBoard.add("acc:" + p.Ping())
			})
			acc.Close()
		}
	}()

	return nil
}

// TestInterfaceDispatch drives broadcast, keyed sends, and accessors whose
// handle type is an interface rather than a concrete actor pointer.
func TestInterfaceDispatch(t *testing.T) {
	pingBoard.reset()

	cfg, err := config.Parse([]byte(`
root:
  actors:
    - typename: ping-caller
      config: {}
      context: 1
    - typename: ping-echo
      config: {label: alpha}
      context: 1
    - typename: ping-drum
      config: {}
      context: 2
contexts:
  - id: 1
  - id: 2
`))
	require.NoError(t, err)
	require.NoError(t, Run(cfg))

	events := pingBoard.snapshot()
	require.Len(t, events, 5)

	// The echo payload is stateless, so its three deliveries are fully
	// determined.
	require.Contains(t, events, "cast:echo:alpha")
	require.Contains(t, events, "direct:echo:alpha")
	require.Contains(t, events, "acc:echo:alpha")

	// The drum mutates itself on every ping: it must be hit exactly
	// twice (broadcast leg + accessor), in either arrival order.
	var drumBeats []string
	for _, e := range events {
		if strings.Contains(e, "drum:") {
			drumBeats = append(drumBeats, e[strings.Index(e, "drum:"):])
		}
	}
	sort.Strings(drumBeats)
	require.Equal(t, []string{"drum:1", "drum:2"}, drumBeats)
}

func init() {
	Register[pingEcho, pingEchoCfg]("ping-echo",
		Implements[ping, pingEcho]())
	Register[pingDrum, struct{}]("ping-drum",
		Implements[ping, pingDrum]())
	Register[pingCaller, struct{}]("ping-caller")
}
