//go:build windows

package service

import (
	"fmt"

	"golang.org/x/sys/windows/svc/eventlog"
)

// ReportStartupError writes err to the Windows Event Log under serviceName,
// so "sc start" failures are visible before the logger exists.
func ReportStartupError(serviceName string, err error) {
	// Registering an existing source is a no-op.
	_ = eventlog.InstallAsEventCreate(serviceName, eventlog.Error|eventlog.Warning|eventlog.Info)

	elog, openErr := eventlog.Open(serviceName)
	if openErr != nil {
		return
	}
	defer elog.Close()

	_ = elog.Error(1, fmt.Sprintf("%s failed to start: %v", serviceName, err))
}
