// Package config loads sysrepod's YAML process configuration (teacher
// pattern: cmd/warren/apply.go's yaml.Unmarshal), applying the
// SYSREPOD_SHM_PREFIX environment override from spec.md §6 last.
package config
