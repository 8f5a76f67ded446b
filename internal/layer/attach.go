package layer

import (
	"context"
	"fmt"
	"sync"

	"github.com/vrtools/xrmirror/internal/mirror"
	"github.com/vrtools/xrmirror/internal/oxr"
)

// Process-wide registry of attached layers, one per instance. Explicit
// lifecycle: Attach at instance setup, Detach at instance teardown. No
// background reaping; an instance that never detaches keeps its shadow state
// until DetachAll.
var (
	activeMu sync.Mutex
	active   = make(map[oxr.Handle]*Layer)
)

// Attach builds a layer for instance and registers it. Attaching an already
// attached instance is an error; the caller owns the lifecycle.
func Attach(instance oxr.Handle, resolve oxr.ResolveFunc, cfg mirror.Config) (*Layer, error) {
	activeMu.Lock()
	defer activeMu.Unlock()

	if _, ok := active[instance]; ok {
		return nil, fmt.Errorf("instance %#x already attached", uint64(instance))
	}

	l, err := New(instance, resolve, cfg)
	if err != nil {
		return nil, err
	}
	active[instance] = l
	return l, nil
}

// Active returns the layer attached to instance, if any.
func Active(instance oxr.Handle) (*Layer, bool) {
	activeMu.Lock()
	defer activeMu.Unlock()
	l, ok := active[instance]
	return l, ok
}

// Detach closes and removes the layer for instance. Detaching an unknown
// instance is a no-op.
func Detach(ctx context.Context, instance oxr.Handle) {
	activeMu.Lock()
	l, ok := active[instance]
	delete(active, instance)
	activeMu.Unlock()
	if ok {
		l.Close(ctx)
	}
}

// DetachAll tears down every attached layer. Used at process shutdown.
func DetachAll(ctx context.Context) {
	activeMu.Lock()
	layers := make([]*Layer, 0, len(active))
	for instance, l := range active {
		layers = append(layers, l)
		delete(active, instance)
	}
	activeMu.Unlock()

	for _, l := range layers {
		l.Close(ctx)
	}
}
