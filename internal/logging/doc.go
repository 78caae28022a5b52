/*
Package logging provides the process-wide structured logger used by every
other internal package, following the teacher's pkg/log: a single global
zerolog.Logger configured once at startup via Init, and small WithX helpers
that attach a component/module/connection field without callers needing to
build their own zerolog.Context.
*/
package logging
