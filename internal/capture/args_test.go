package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/trafficlab/pkg/types"
)

func TestBuildCommand(t *testing.T) {
	paths := ToolPaths{TShark: "/usr/bin/tshark", Mitmdump: "/opt/mitm/mitmdump", DefaultInterface: "eth0"}

	tests := []struct {
		name     string
		cfg      types.CaptureConfig
		paths    ToolPaths
		wantName string
		wantArgs []string
	}{
		{
			name:     "tshark defaults",
			cfg:      types.CaptureConfig{},
			paths:    paths,
			wantName: "/usr/bin/tshark",
			wantArgs: []string{"-i", "eth0", "-l", "-n", "-T", "ek", "-Y", "http"},
		},
		{
			name:     "tshark bare port and display filter",
			cfg:      types.CaptureConfig{Tool: types.ToolTShark, Interface: "lo", PortFilter: "8080", ProtocolFilter: "http2"},
			paths:    paths,
			wantName: "/usr/bin/tshark",
			wantArgs: []string{"-i", "lo", "-l", "-n", "-T", "ek", "-Y", "http2", "-f", "tcp port 8080"},
		},
		{
			name:     "tshark capture filter expression",
			cfg:      types.CaptureConfig{PortFilter: "tcp port 80 or tcp port 443"},
			paths:    ToolPaths{},
			wantName: "tshark",
			wantArgs: []string{"-i", "any", "-l", "-n", "-T", "ek", "-Y", "http", "-f", "tcp port 80 or tcp port 443"},
		},
		{
			name:     "mitmdump default port",
			cfg:      types.CaptureConfig{Tool: types.ToolMitmdump},
			paths:    paths,
			wantName: "/opt/mitm/mitmdump",
			wantArgs: []string{"--listen-port", "8080", "--set", "termlog_verbosity=warn", "--set", "flow_detail=1"},
		},
		{
			name: "mitmdump with script and view filter",
			cfg:  types.CaptureConfig{Tool: types.ToolMitmdump, ListenPort: 9090, Interface: "127.0.0.1", ProtocolFilter: "~d example.com"},
			paths: ToolPaths{
				FlowScript: "/etc/trafficlab/flows.py",
				MitmArgs:   []string{"--set", "confdir=/certs"},
			},
			wantName: "mitmdump",
			wantArgs: []string{
				"--listen-port", "9090", "--set", "termlog_verbosity=warn",
				"--listen-host", "127.0.0.1",
				"-q", "-s", "/etc/trafficlab/flows.py",
				"--set", "confdir=/certs",
				"~d example.com",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args, err := BuildCommand(tt.cfg, tt.paths)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestBuildCommand_Invalid(t *testing.T) {
	_, _, err := BuildCommand(types.CaptureConfig{Tool: "wireshark"}, ToolPaths{})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, _, err = BuildCommand(types.CaptureConfig{Tool: types.ToolMitmdump, ListenPort: 70000}, ToolPaths{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
