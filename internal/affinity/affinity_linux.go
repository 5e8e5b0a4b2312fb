//go:build linux

package affinity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func pinCurrentThread(cpus []int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}
