// Package testutil gates the backend tests that run against real stores in
// containers.
package testutil

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// RequireDocker skips t under -short or when no container runtime answers.
func RequireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("container-backed store test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}
