package introspect

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cuemby/sysrepod/internal/conn"
	"github.com/cuemby/sysrepod/internal/logging"
	"github.com/cuemby/sysrepod/internal/metrics"
	"github.com/cuemby/sysrepod/internal/registry"
)

// SocketName is the fixed Unix domain socket filename the engine process
// binds its introspection service to, relative to the repo directory
// (spec.md's external-interfaces supplement: operator/test tooling only,
// never a network port).
const SocketName = "sysrepod.introspect.sock"

// Server is the introspection endpoint, wired into a *conn.Manager at
// construction. It owns its own ServeMux rather than registering onto
// http.DefaultServeMux (unlike the teacher's main.go's /metrics handler),
// so more than one Server can coexist in tests without fighting over
// global handler state.
type Server struct {
	mgr        *conn.Manager
	socketPath string
	mux        *http.ServeMux
	srv        *http.Server
	ln         net.Listener
}

// New builds a Server that will bind the Unix domain socket at socketPath,
// registering the fixed route table below. Call Start to begin serving.
func New(mgr *conn.Manager, socketPath string) *Server {
	s := &Server{mgr: mgr, socketPath: socketPath, mux: http.NewServeMux()}
	s.mux.HandleFunc("/modules", s.handleModules)
	s.mux.HandleFunc("/modules/", s.handleModuleLocks)
	s.mux.HandleFunc("/subscriptions", s.handleSubscriptions)
	s.mux.HandleFunc("/arena/stats", s.handleArenaStats)
	s.mux.Handle("/metrics", metrics.Handler())
	s.srv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Start binds the Unix domain socket (removing any stale socket file left
// behind by a previous process) and serves until Shutdown is called or it
// fails. Meant to run in its own goroutine, matching cmd/warren/main.go's
// "go func() { http.ListenAndServe(...) }()" pattern for its own /metrics
// side-car.
func (s *Server) Start() error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.ln = ln

	logging.Info("introspect: listening on " + s.socketPath)
	err = s.srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server and removes the socket file.
func (s *Server) Shutdown() error {
	err := s.srv.Close()
	if s.socketPath != "" {
		_ = os.RemoveAll(s.socketPath)
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// moduleSummary is the wire shape for one registered module's
// dependency/subscription counts.
type moduleSummary struct {
	Name        string `json:"name"`
	Revision    string `json:"revision"`
	Ver         uint64 `json:"ver"`
	DataDeps    int    `json:"data_deps"`
	InvDataDeps int    `json:"inv_data_deps"`
	ChangeSubs  int    `json:"change_subs"`
	OperSubs    int    `json:"oper_subs"`
	NotifSubs   int    `json:"notif_subs"`
}

// GET /modules
func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	mods := s.mgr.Registry().All()
	registry.SortBySlot(mods)

	out := make([]moduleSummary, 0, len(mods))
	for _, m := range mods {
		d := m.Descriptor
		changeSubs := 0
		for _, subs := range d.ChangeSubs {
			changeSubs += len(subs)
		}
		out = append(out, moduleSummary{
			Name:        d.Name,
			Revision:    d.Revision,
			Ver:         d.Ver,
			DataDeps:    len(d.DataDeps),
			InvDataDeps: len(d.InvDataDeps),
			ChangeSubs:  changeSubs,
			OperSubs:    len(d.OperSubs),
			NotifSubs:   len(d.NotifSubs),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// moduleLock is one connection's held lock on a single module/datastore
// pair, the shape /modules/{name}/locks renders.
type moduleLock struct {
	CID       uint32 `json:"cid"`
	Datastore string `json:"datastore"`
	Mode      string `json:"mode"`
}

// GET /modules/{name}/locks
func (s *Server) handleModuleLocks(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/modules/"), "/locks")
	if !ok || name == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "expected /modules/{name}/locks"})
		return
	}
	if _, err := s.mgr.Registry().FindModule(name); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	out := make([]moduleLock, 0)
	for _, cl := range s.mgr.ConnectionSnapshots() {
		dsLocks, ok := cl.Modules[name]
		if !ok {
			continue
		}
		for ds, mode := range dsLocks {
			out = append(out, moduleLock{CID: cl.CID, Datastore: string(ds), Mode: mode})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// subscriptionEntry is one subscription record flattened with the module
// and kind it belongs to, so /subscriptions can render change, operational,
// notification, and RPC subscriptions from every module in one list.
type subscriptionEntry struct {
	Module    string           `json:"module"`
	Kind      string           `json:"kind"`
	Datastore string           `json:"datastore,omitempty"`
	XPath     string           `json:"xpath,omitempty"`
	CID       uint32           `json:"cid"`
	EvpipeNum uint32           `json:"evpipe_num"`
	Opts      registry.SubOpts `json:"opts"`
	SubKind   registry.SubKind `json:"sub_kind,omitempty"`
}

// GET /subscriptions
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	mods := s.mgr.Registry().All()
	registry.SortBySlot(mods)

	out := make([]subscriptionEntry, 0)
	for _, m := range mods {
		d := m.Descriptor
		for ds, subs := range d.ChangeSubs {
			for _, sub := range subs {
				out = append(out, subscriptionEntry{
					Module: d.Name, Kind: "change", Datastore: string(ds),
					XPath: sub.XPath, CID: sub.CID, EvpipeNum: sub.EvpipeNum, Opts: sub.Opts,
				})
			}
		}
		for _, sub := range d.OperSubs {
			out = append(out, subscriptionEntry{
				Module: d.Name, Kind: "operational", XPath: sub.XPath,
				CID: sub.CID, EvpipeNum: sub.EvpipeNum, Opts: sub.Opts, SubKind: sub.SubKind,
			})
		}
		for _, sub := range d.NotifSubs {
			out = append(out, subscriptionEntry{
				Module: d.Name, Kind: "notification", XPath: sub.XPath,
				CID: sub.CID, EvpipeNum: sub.EvpipeNum,
			})
		}
		for _, sub := range d.RPCSubs {
			out = append(out, subscriptionEntry{
				Module: d.Name, Kind: "rpc", XPath: sub.XPath,
				CID: sub.CID, EvpipeNum: sub.EvpipeNum,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// arenaStats is the wire shape for /arena/stats.
type arenaStats struct {
	ExtWastedRatio float64 `json:"ext_wasted_ratio"`
	ModuleCount    uint32  `json:"module_count"`
	ModuleCapacity uint32  `json:"module_capacity"`
}

// GET /arena/stats
func (s *Server) handleArenaStats(w http.ResponseWriter, r *http.Request) {
	ratio, count, capacity := s.mgr.ShmStats()
	writeJSON(w, http.StatusOK, arenaStats{ExtWastedRatio: ratio, ModuleCount: count, ModuleCapacity: capacity})
}
