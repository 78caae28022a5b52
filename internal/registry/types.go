// Package registry implements the module registry (spec.md §3, §4.3): the
// lookup from module name to module descriptor. The dependency-closure
// resolver that builds a canonical, lock-ordered modinfo working set from
// these descriptors lives in internal/modinfo.
//
// Descriptor content is mirrored into internal/shm so the same data that
// drives dependency resolution is also visible to the introspection
// service the way Main/Ext SHM would be inspectable from another process;
// the per-datastore locks, which are process-local synchronization
// primitives rather than data, are kept only in memory (internal/lock).
package registry

// Datastore identifies one of the four datastores every module has a
// data_lock for (spec.md §3).
type Datastore string

const (
	Startup     Datastore = "startup"
	Running     Datastore = "running"
	Candidate   Datastore = "candidate"
	Operational Datastore = "operational"
)

// AllDatastores lists the four datastores in data_lock array order.
var AllDatastores = [4]Datastore{Startup, Running, Candidate, Operational}

// Kind is a modinfo entry's state-bit strength (spec.md §4.3): REQ is
// strictly stronger than INV_DEP, which is strictly stronger than DEP.
type Kind string

const (
	Dep    Kind = "DEP"
	InvDep Kind = "INV_DEP"
	Req    Kind = "REQ"
)

var kindRank = map[Kind]int{Dep: 0, InvDep: 1, Req: 2}

// Stronger reports whether k outranks other in the DEP < INV_DEP < REQ
// ordering.
func (k Kind) Stronger(other Kind) bool { return kindRank[k] > kindRank[other] }

// DepTag distinguishes leafref/when/must dependencies (REF), resolvable
// purely from the schema, from instance-identifier dependencies (INSTID),
// which can only be resolved once data is known.
type DepTag string

const (
	RefDep    DepTag = "REF"
	InstIDDep DepTag = "INSTID"
)

// Dependency is one entry in a module descriptor's data-deps,
// inverse-data-deps, or op-deps array (spec.md §3).
type Dependency struct {
	Tag    DepTag `json:"tag"`
	Module string `json:"module"`
	XPath  string `json:"xpath"`
}

// SubOpts is the subscription options bitset (spec.md §3, §6).
type SubOpts uint32

const (
	OptPassive SubOpts = 1 << iota
	OptMerge           // OPER_MERGE: provider output merges rather than replaces
)

func (o SubOpts) Has(flag SubOpts) bool { return o&flag != 0 }

// SubKind classifies an operational subscription's coverage.
type SubKind string

const (
	SubState  SubKind = "STATE"
	SubConfig SubKind = "CONFIG"
	SubMixed  SubKind = "MIXED"
)

// Subscription is the common shape spec.md §3 describes for change,
// operational, notification, and RPC subscription records. Fields not
// relevant to a given shape are left zero.
type Subscription struct {
	XPath     string  `json:"xpath,omitempty"` // empty means whole-module
	Priority  int     `json:"priority"`
	Opts      SubOpts `json:"opts"`
	EvpipeNum uint32  `json:"evpipe_num"`
	CID       uint32  `json:"cid"`

	// Change subscriptions only.
	Datastore Datastore `json:"datastore,omitempty"`

	// Operational subscriptions only.
	SubKind SubKind `json:"sub_kind,omitempty"`

	// Notification and RPC subscriptions only.
	SubID     uint32 `json:"sub_id,omitempty"`
	Suspended bool   `json:"suspended,omitempty"`
}

// Flags holds a module descriptor's immutable flags.
type Flags struct {
	ReplaySupport bool `json:"replay_support"`
}

// Descriptor is a module descriptor (spec.md §3): immutable name/revision/
// flags plus the mutable dependency arrays, subscription tables, and
// version counter that live "in Main/Ext SHM". Per-datastore data_lock
// records are not part of Descriptor: they are process-local RWLocks held
// alongside it in a Module (see registry.go).
type Descriptor struct {
	Name     string `json:"name"`
	Revision string `json:"revision"`
	Flags    Flags  `json:"flags"`

	Features []string `json:"features"`

	DataDeps    []Dependency `json:"data_deps"`
	InvDataDeps []Dependency `json:"inv_data_deps"`
	OpDeps      []Dependency `json:"op_deps"`

	ChangeSubs map[Datastore][]Subscription `json:"change_subs"`
	OperSubs   []Subscription                `json:"oper_subs"`
	NotifSubs  []Subscription                `json:"notif_subs"`
	RPCSubs    []Subscription                `json:"rpc_subs"`

	Ver uint64 `json:"ver"`
}

func newDescriptor(name, revision string) *Descriptor {
	return &Descriptor{
		Name:       name,
		Revision:   revision,
		ChangeSubs: make(map[Datastore][]Subscription),
	}
}
