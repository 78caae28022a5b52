// Package perm implements the permission gate (spec.md §4.4): checking a
// modinfo set's REQ|CHANGED entries against the persisted startup file's
// access bits before the loader is allowed to touch them.
package perm

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/logging"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"golang.org/x/sys/unix"
)

// StartupPath returns the path perm_check tests access against for module
// name, matching the layout in spec.md §6.
func StartupPath(repoPath, name string) string {
	return filepath.Join(repoPath, "data", name+".startup")
}

// Check implements perm_check(modinfo, write, strict). Precondition (per
// spec.md §4.4): set must not yet hold any loaded data when strict is
// false, since a non-strict denial drops the entry outright.
//
// On a denial: strict mode returns UNAUTHORIZED and leaves set untouched;
// non-strict mode removes the entry (preserving the order of the rest)
// and logs an informational message instead of failing the call.
func Check(set *modinfo.Set, repoPath string, write, strict bool) error {
	mode := unix.R_OK
	if write {
		mode = unix.W_OK
	}

	kept := set.Entries[:0:0]
	for _, entry := range set.Entries {
		if !entry.State.Has(modinfo.BitReq) && !entry.State.Has(modinfo.BitChanged) {
			kept = append(kept, entry)
			continue
		}

		name := entry.Module.Descriptor.Name
		path := StartupPath(repoPath, name)
		if err := unix.Access(path, uint32(mode)); err != nil {
			if !isPermissionDenied(err) {
				return errs.Wrap(errs.Sys, err, "perm: checking access to %s", path).WithPath(path)
			}
			if strict {
				return errs.New(errs.Unauthorized, "module %s denies %s access", name, accessVerb(write)).WithPath(name)
			}
			logging.Info(fmt.Sprintf("perm: dropping module %s from modinfo set, %s access denied", name, accessVerb(write)))
			continue
		}
		kept = append(kept, entry)
	}

	set.Entries = kept
	return nil
}

func accessVerb(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

func isPermissionDenied(err error) bool {
	return err == unix.EACCES || err == unix.EPERM
}
