//go:build !unix

package permset

func supportsPOSIXPermissions() bool { return false }
