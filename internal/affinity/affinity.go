// Package affinity optionally pins a router worker goroutine's
// underlying OS thread to a fixed set of CPUs, for deployments that want
// predictable cache behavior under sustained fabric traffic.
//
// Grounded on internal/concurrency/affinity.go's platform-split pinning
// API, replacing its cgo/libnuma/hwloc backend with golang.org/x/sys/unix's
// SchedSetaffinity on Linux (affinity_linux.go) and a no-op stub elsewhere
// (affinity_other.go) — see DESIGN.md for why cgo was dropped.
package affinity

// PinCurrentThread locks the calling goroutine to its current OS thread
// (runtime.LockOSThread) and restricts that thread to cpus. Callers run it
// as the first statement of a long-lived worker goroutine. A nil or empty
// cpus is a no-op.
func PinCurrentThread(cpus []int) error {
	if len(cpus) == 0 {
		return nil
	}
	return pinCurrentThread(cpus)
}
