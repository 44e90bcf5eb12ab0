package types

import "time"

// SessionStatus is the lifecycle state of a capture session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionStopped SessionStatus = "stopped"
)

// CaptureTool selects the external capture program and its wire format.
type CaptureTool string

const (
	// ToolTShark emits one JSON packet object per line.
	ToolTShark CaptureTool = "tshark"
	// ToolMitmdump emits JSON arrays of flows or "METHOD URL" lines.
	ToolMitmdump CaptureTool = "mitmdump"
)

// CaptureConfig describes how a session launches and filters its capture.
type CaptureConfig struct {
	Tool           CaptureTool   `json:"tool,omitempty"`            // Default "tshark"
	Interface      string        `json:"interface,omitempty"`       // Capture interface (tshark -i)
	PortFilter     string        `json:"port_filter,omitempty"`     // Capture filter, e.g. "tcp port 80"
	ProtocolFilter string        `json:"protocol_filter,omitempty"` // Display filter, default "http"
	ListenPort     int           `json:"listen_port,omitempty"`     // Proxy listen port (mitmdump)
	Filter         TrafficFilter `json:"filter"`
}

// CaptureSession is the public view of a capture session.
type CaptureSession struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	Config    CaptureConfig `json:"config"`
	StartedAt time.Time     `json:"started_at"`
	StoppedAt *time.Time    `json:"stopped_at,omitempty"`
	PID       int           `json:"pid,omitempty"`
}

// IsLive reports whether the session still owns a running capture.
func (s CaptureSession) IsLive() bool {
	return s.Status == SessionActive || s.Status == SessionPaused
}

// SessionStats holds running counters for a session. Packet and byte counts
// cover every parsed record regardless of the filter or pause state.
type SessionStats struct {
	SessionID      string     `json:"session_id"`
	TotalPackets   int64      `json:"total_packets"`
	TotalBytes     int64      `json:"total_bytes"`
	EmittedEvents  int64      `json:"emitted_events"`
	FilteredEvents int64      `json:"filtered_events"`
	LastPacketAt   *time.Time `json:"last_packet_at,omitempty"`
}
