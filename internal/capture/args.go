package capture

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/usestring/trafficlab/pkg/types"
)

// ToolPaths locates the capture binaries and their fixed arguments.
type ToolPaths struct {
	TShark           string
	Mitmdump         string
	FlowScript       string   // Optional mitmdump addon that prints flows as JSON
	MitmArgs         []string // Extra mitmdump arguments, e.g. the CA confdir
	DefaultInterface string
}

// DefaultListenPort is the proxy port used when none is configured.
const DefaultListenPort = 8080

// BuildCommand derives the subprocess command line from a session config.
func BuildCommand(cfg types.CaptureConfig, paths ToolPaths) (string, []string, error) {
	switch cfg.Tool {
	case "", types.ToolTShark:
		return tsharkCommand(cfg, paths)
	case types.ToolMitmdump:
		return mitmdumpCommand(cfg, paths)
	default:
		return "", nil, fmt.Errorf("%w: unknown tool %q", ErrInvalidConfig, cfg.Tool)
	}
}

func tsharkCommand(cfg types.CaptureConfig, paths ToolPaths) (string, []string, error) {
	name := paths.TShark
	if name == "" {
		name = "tshark"
	}

	iface := cfg.Interface
	if iface == "" {
		iface = paths.DefaultInterface
	}
	if iface == "" {
		iface = "any"
	}

	display := strings.TrimSpace(cfg.ProtocolFilter)
	if display == "" {
		display = "http"
	}

	// -l flushes stdout per packet, -n skips name resolution, -T ek writes
	// one JSON object per line.
	args := []string{"-i", iface, "-l", "-n", "-T", "ek", "-Y", display}
	if pf := strings.TrimSpace(cfg.PortFilter); pf != "" {
		args = append(args, "-f", portFilterExpr(pf))
	}
	return name, args, nil
}

func mitmdumpCommand(cfg types.CaptureConfig, paths ToolPaths) (string, []string, error) {
	name := paths.Mitmdump
	if name == "" {
		name = "mitmdump"
	}

	port := cfg.ListenPort
	if port == 0 {
		port = DefaultListenPort
	}
	if port < 0 || port > 65535 {
		return "", nil, fmt.Errorf("%w: listen port %d out of range", ErrInvalidConfig, port)
	}

	args := []string{"--listen-port", strconv.Itoa(port), "--set", "termlog_verbosity=warn"}
	if cfg.Interface != "" {
		args = append(args, "--listen-host", cfg.Interface)
	}
	if paths.FlowScript != "" {
		args = append(args, "-q", "-s", paths.FlowScript)
	} else {
		args = append(args, "--set", "flow_detail=1")
	}
	args = append(args, paths.MitmArgs...)
	if pf := strings.TrimSpace(cfg.ProtocolFilter); pf != "" {
		args = append(args, pf)
	}
	return name, args, nil
}

// portFilterExpr accepts a bare port ("8080") or a full capture filter
// ("tcp port 80 or tcp port 443").
func portFilterExpr(pf string) string {
	if _, err := strconv.Atoi(pf); err == nil {
		return "tcp port " + pf
	}
	return pf
}
