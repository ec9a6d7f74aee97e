// Package common holds process-level helpers shared by all KME binaries.
package common

import "os"

var (
	// Version is overridden at build time with -ldflags "-X ...common.Version=v1.2.3".
	Version = "dev"

	// PackageName prefixes metric names.
	PackageName = "kme"
)

// GetEnv returns the value of key, or defaultValue when it is unset.
func GetEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
