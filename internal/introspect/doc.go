// Package introspect exposes the datastore engine's live registry,
// subscriptions, and lock state over plain HTTP/JSON on a Unix domain
// socket, mirroring the "render manager state over the wire" idiom from
// pkg/api/server.go (teacher) without the gRPC/mTLS machinery that
// package used for its cluster-control plane — this engine has no
// cluster, so there is nothing to authenticate a peer manager against.
// DESIGN.md records why the teacher's grpc/protobuf dependency was
// dropped in favor of net/http + encoding/json here.
//
// It binds a Unix socket rather than a network port because it is
// operator/test tooling, not the management-plane API a real NETCONF/
// RESTCONF client talks to; cmd/sdctl is its only intended caller.
// Endpoints mirror facts internal/registry/monitoring already composes
// into operational data (spec.md §4.9.C), reachable here without going
// through a session at all.
package introspect
