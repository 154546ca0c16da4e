package pcsc

import "golang.org/x/sys/windows"

func currentThreadID() int64 {
	return int64(windows.GetCurrentThreadId())
}
