//go:build !linux && !windows

package pcsc

// Thread ids are not available here; confinement is still enforced by
// locking the goroutine but misuse is not detected.
func currentThreadID() int64 {
	return 0
}
