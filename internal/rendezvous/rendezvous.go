package rendezvous

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/metrics"
)

// EventPipePath returns the path for event pipe n under repoPath (spec.md
// §6: "<repo>/sr_evpipe<N>").
func EventPipePath(repoPath string, n uint32) string {
	return filepath.Join(repoPath, fmt.Sprintf("sr_evpipe%d", n))
}

// Ping writes one byte to the event pipe file at path, the wire-level
// notification a real subscriber's poll loop wakes up on (spec.md §6).
func Ping(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("rendezvous: open event pipe %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write([]byte{1}); err != nil {
		return fmt.Errorf("rendezvous: notify event pipe %s: %w", path, err)
	}
	return nil
}

// Request is the rendezvous call's argument set (spec.md §4.9.D:
// "oper_notify(module, sub_xpath, request_xpath, parent_snapshot, sid,
// evpipe_num, timeout)").
type Request struct {
	Module       string
	SubXPath     string
	RequestXPath string
	Parent       *datatree.Node
	SID          uint32
	EvpipeNum    uint32
}

// ProviderFunc answers one rendezvous call, standing in for the external
// process that would otherwise receive the request over its event pipe
// and reply with a data tree (or a structured callback error).
type ProviderFunc func(ctx context.Context, req Request) (*datatree.Tree, error)

// Registry is the process-local table of registered providers, keyed by
// the evpipe_num a subscription was created with.
type Registry struct {
	mu        sync.RWMutex
	providers map[uint32]ProviderFunc
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[uint32]ProviderFunc)}
}

// Register attaches fn as the provider callback for evpipeNum.
func (r *Registry) Register(evpipeNum uint32, fn ProviderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[evpipeNum] = fn
}

// Unregister removes evpipeNum's provider (connection death, spec.md §5).
func (r *Registry) Unregister(evpipeNum uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, evpipeNum)
}

// OperNotify performs the synchronous provider rendezvous: it pings the
// subscriber's event pipe, then waits up to timeout for the registered
// provider to answer. A missing provider, a provider error, or a timeout
// all surface as errs.CallbackFailed (spec.md §4.9.D: "timeout failure
// maps to CALLBACK_FAILED and halts the composer") and never return a
// partial tree.
func (r *Registry) OperNotify(ctx context.Context, repoPath string, req Request, timeout time.Duration) (*datatree.Tree, error) {
	r.mu.RLock()
	fn, ok := r.providers[req.EvpipeNum]
	r.mu.RUnlock()
	if !ok {
		metrics.CallbackFailedTotal.Inc()
		return nil, errs.New(errs.CallbackFailed, "rendezvous: no provider registered for evpipe %d (%s)", req.EvpipeNum, req.SubXPath)
	}

	if err := Ping(EventPipePath(repoPath, req.EvpipeNum)); err != nil {
		return nil, errs.Wrap(errs.Sys, err, "rendezvous: notify evpipe %d", req.EvpipeNum)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		tree *datatree.Tree
		err  error
	}
	ch := make(chan result, 1)
	timer := metrics.NewTimer()
	go func() {
		tree, err := fn(cctx, req)
		ch <- result{tree, err}
	}()

	select {
	case res := <-ch:
		timer.ObserveDuration(metrics.ProviderCalloutSeconds)
		if res.err != nil {
			metrics.CallbackFailedTotal.Inc()
			return nil, errs.Wrap(errs.CallbackFailed, res.err, "rendezvous: provider callback failed for %s", req.SubXPath)
		}
		return res.tree, nil
	case <-cctx.Done():
		metrics.CallbackFailedTotal.Inc()
		return nil, errs.Wrap(errs.CallbackFailed, cctx.Err(), "rendezvous: provider timed out for %s", req.SubXPath)
	}
}
