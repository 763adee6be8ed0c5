package testdb

import "os"

// Environment variables consulted by Start, in order of preference.
const (
	EnvTestDatabaseURL = "LT_TEST_DATABASE_URL"
	EnvDatabaseURL     = "DATABASE_URL"
)

// ExternalURL returns the URL of an already running test database, or ""
// when a container should be started instead.
func ExternalURL() string {
	return firstEnv(EnvTestDatabaseURL, EnvDatabaseURL)
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
