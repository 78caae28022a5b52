// Package shm implements the two process-shared memory regions from
// spec.md §4.1: a fixed-layout Main region (an atomic id-counter header
// plus a fixed-capacity module slot table) and a variable-size Ext region
// (an offset-addressed heap backing descriptor bodies and arrays).
//
// Ext-heap records are length-prefixed JSON blobs rather than raw struct
// overlays (see heap.go's Put and Get); see heap.go's
// Defrag comment for the documented simplification of the real
// implementation's relocation-based compaction.
package shm
