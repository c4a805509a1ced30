package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vk/measgrid/internal/engine"
	"github.com/vk/measgrid/internal/hcl"
	"github.com/vk/measgrid/internal/registry"
	"github.com/vk/measgrid/internal/testutil"
)

// SetupAppTest writes files into a temporary directory, points the measure
// path of appConfig at it and creates an app with debug logging.
func SetupAppTest(t *testing.T, appConfig *Config, files map[string]string, modules ...registry.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()

	dir := testutil.WriteFiles(t, files)
	appConfig.MeasurePath = dir
	if appConfig.ProfilesPath != "" {
		appConfig.ProfilesPath = filepath.Join(dir, appConfig.ProfilesPath)
	}
	if appConfig.Engine == "" {
		appConfig.Engine = engine.ProcessKind
	}
	appConfig.LogLevel = "debug"

	logBuffer := &testutil.SafeBuffer{}
	testApp := NewApp(logBuffer, appConfig, hcl.NewLoader(), hcl.Writer{}, modules...)

	t.Cleanup(func() {
		if os.Getenv("MEASGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
