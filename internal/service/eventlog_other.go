//go:build !windows

package service

// ReportStartupError does nothing outside Windows; startup errors go to
// stderr and the startup error file instead.
func ReportStartupError(serviceName string, err error) {}
