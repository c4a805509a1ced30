package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/measgrid/internal/app"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name       string
		args       []string
		want       *app.Config
		wantExit   bool
		wantCode   int
		wantErrMsg string
	}{
		{
			name: "positional path with defaults",
			args: []string{"measures/"},
			want: &app.Config{
				MeasurePath:      "measures/",
				Engine:           "process",
				LogFormat:        "text",
				LogLevel:         "info",
				MonitorQueue:     256,
				ForceStopTimeout: 2 * time.Second,
			},
		},
		{
			name: "all flags",
			args: []string{
				"-m", "iv.hcl", "-profiles", "profiles", "-log-format", "JSON", "-log-level", "debug",
				"-healthcheck-port", "8080", "-monitor-queue", "16", "-force-stop-timeout", "500ms",
				"-require-runtime", "-check-only",
			},
			want: &app.Config{
				MeasurePath:      "iv.hcl",
				ProfilesPath:     "profiles",
				Engine:           "process",
				LogFormat:        "json",
				LogLevel:         "debug",
				HealthcheckPort:  8080,
				MonitorQueue:     16,
				ForceStopTimeout: 500 * time.Millisecond,
				RequireRuntime:   true,
				CheckOnly:        true,
			},
		},
		{
			name: "measure flag wins over positional",
			args: []string{"-measure", "a.hcl", "b.hcl"},
			want: &app.Config{
				MeasurePath:      "a.hcl",
				Engine:           "process",
				LogFormat:        "text",
				LogLevel:         "info",
				MonitorQueue:     256,
				ForceStopTimeout: 2 * time.Second,
			},
		},
		{name: "help", args: []string{"-h"}, wantExit: true},
		{name: "no path", args: nil, wantExit: true},
		{name: "bad format", args: []string{"-log-format", "xml", "m.hcl"}, wantCode: 2, wantErrMsg: "invalid log-format"},
		{name: "bad level", args: []string{"-log-level", "loud", "m.hcl"}, wantCode: 2, wantErrMsg: "invalid log-level"},
		{name: "check and dump", args: []string{"-check-only", "-dump", "m.hcl"}, wantCode: 2, wantErrMsg: "cannot be combined"},
		{name: "unknown flag", args: []string{"-workers", "4"}, wantCode: 2, wantErrMsg: "flag provided but not defined"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			cfg, exit, err := Parse(tc.args, &out)

			if tc.wantErrMsg != "" {
				var exitErr *ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, tc.wantCode, exitErr.Code)
				assert.Contains(t, exitErr.Message, tc.wantErrMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantExit, exit)
			if tc.wantExit {
				assert.Contains(t, out.String(), "Usage:")
				return
			}
			if diff := cmp.Diff(tc.want, cfg); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
