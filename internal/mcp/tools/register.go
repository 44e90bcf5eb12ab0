package tools

import (
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Register registers all tools with the MCP server.
func Register(srv *sdkmcp.Server, d *Deps) {
	registerCapture(srv, d)
	registerCerts(srv, d)
	registerReplay(srv, d)
	registerExport(srv, d)
}

func registerCapture(srv *sdkmcp.Server, d *Deps) {
	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_start",
		Description: "Start a capture session with tshark (packet capture) or mitmdump (intercepting proxy). Only one session may be active or paused at a time. Events matching the filter are indexed for capture_search.",
	}, ToolCaptureStart(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_stop",
		Description: "Stop a capture session. The capture process is terminated, remaining output is parsed, and the session is archived.",
	}, ToolCaptureStop(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_pause",
		Description: "Pause event emission. The capture keeps running and packet counters keep increasing.",
	}, ToolCapturePause(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_resume",
		Description: "Resume event emission for a paused session.",
	}, ToolCaptureResume(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_update_filter",
		Description: "Replace the filter of a live session. Filter dimensions (domains, methods, status_codes, headers, expr) are ANDed; values within one dimension are ORed. Domains accept '*.example.com' for subdomains.",
	}, ToolCaptureUpdateFilter(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_get_session",
		Description: "Get a capture session by ID, including archived sessions.",
	}, ToolCaptureGetSession(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_active_sessions",
		Description: "List active and paused capture sessions. Set include_stopped to list every session held in memory.",
	}, ToolCaptureActiveSessions(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_session_stats",
		Description: "Get packet, byte and event counters for a session. Packet counts include traffic that was filtered out or arrived while paused.",
	}, ToolCaptureSessionStats(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_search",
		Description: "Search captured events, newest first. Free-text query matches URL, header and (when INDEX_BODY is set) body tokens; filter uses session filter semantics. Results carry event_id for capture_get_event and replay_request.",
	}, ToolCaptureSearch(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "capture_get_event",
		Description: "Get one captured event with headers and bodies. Bodies are compacted by default; set body_mode='full' or read the returned resource for the complete event.",
	}, ToolCaptureGetEvent(d))
}

func registerCerts(srv *sdkmcp.Server, d *Deps) {
	AddTool(srv, &sdkmcp.Tool{
		Name:        "cert_initialize",
		Description: "Load the root CA from the certificate directory, or report that none exists yet.",
	}, ToolCertInitialize(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "cert_generate_root",
		Description: "Generate a new root CA, replacing the existing one. Falls back to a degraded certificate when openssl is unavailable.",
	}, ToolCertGenerateRoot(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "cert_generate_host",
		Description: "Issue a host certificate signed by the root CA. Results are cached per hostname until cert_clear_cache.",
	}, ToolCertGenerateHost(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "cert_trust",
		Description: "Install the root CA in the system trust store. May require elevated privileges; failures carry the tool's error output.",
	}, ToolCertTrust(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "cert_untrust",
		Description: "Remove the root CA from the system trust store.",
	}, ToolCertUntrust(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "cert_status",
		Description: "Report the root CA state: not_generated, generated, trusted or expired.",
	}, ToolCertStatus(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "cert_export",
		Description: "Export the root CA as pem, der or p12 (p12 requires a password).",
	}, ToolCertExport(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "cert_mitm_config",
		Description: "Write the combined key and certificate file for mitmproxy-style interceptors and return the paths and arguments to use.",
	}, ToolCertMitmConfig(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "cert_clear_cache",
		Description: "Drop cached host certificates so they are reissued on next use.",
	}, ToolCertClearCache(d))
}

func registerReplay(srv *sdkmcp.Server, d *Deps) {
	AddTool(srv, &sdkmcp.Tool{
		Name:        "replay_request",
		Description: "Replay a captured request against the original host, a custom URL or a named environment, with optional header overrides, body replacement or JSON body patches. Failures are recorded in the result, not returned as errors.",
	}, ToolReplayRequest(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "replay_multiple",
		Description: "Replay several captured requests in order with an optional delay. Continues past failures unless continue_on_error is false.",
	}, ToolReplayMultiple(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "replay_history",
		Description: "List recent replay results, oldest to newest.",
	}, ToolReplayHistory(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "replay_get",
		Description: "Get a replay result with the request sent, the response received and the captured response when available.",
	}, ToolReplayGet(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "replay_compare",
		Description: "Diff a replayed response against the captured one: status, headers (added/removed/changed), body equality, size and timing deltas. Set ignore_noise to skip volatile headers.",
	}, ToolReplayCompare(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "replay_delete",
		Description: "Delete a replay result, or the whole history with all=true.",
	}, ToolReplayDelete(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "replay_environments",
		Description: "List the named replay targets (base URL and headers). Pass set to add or replace one.",
	}, ToolReplayEnvironments(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "replay_schema_drift",
		Description: "Infer a JSON schema from the captured response body and validate the replayed body against it. Reports structural changes such as type changes or missing fields.",
	}, ToolSchemaDrift(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "query_body",
		Description: "Extract values from a captured or replayed body with jq (JSON/YAML), CSS selectors (HTML), XPath (HTML/XML), regex or form keys. The mode defaults to one suited to the body.",
	}, ToolQueryBody(d))
}

func registerExport(srv *sdkmcp.Server, d *Deps) {
	AddTool(srv, &sdkmcp.Tool{
		Name:        "export_har",
		Description: "Export cached events as a HAR 1.2 archive, inline or to a file.",
	}, ToolExportHAR(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "export_json",
		Description: "Export cached events as a JSON array of captured request records, inline or to a file.",
	}, ToolExportJSON(d))

	AddTool(srv, &sdkmcp.Tool{
		Name:        "import_har",
		Description: "Load a HAR archive into the capture store. The archive is validated first; imported entries can be searched and replayed like captured ones.",
	}, ToolImportHAR(d))
}
