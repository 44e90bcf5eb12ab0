package tools

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/usestring/trafficlab/pkg/types"
)

// CertOptionsInput tunes certificate generation.
type CertOptionsInput struct {
	CommonName   string   `json:"common_name,omitempty" jsonschema:"Subject common name"`
	Organization string   `json:"organization,omitempty" jsonschema:"Subject organization"`
	Country      string   `json:"country,omitempty" jsonschema:"Two letter country code"`
	ValidityDays int      `json:"validity_days,omitempty" jsonschema:"Validity in days (default: 3650 for the root, 365 for hosts)"`
	KeyBits      int      `json:"key_bits,omitempty" jsonschema:"RSA key size (default: 2048)"`
	AltNames     []string `json:"alt_names,omitempty" jsonschema:"Extra subject alternative names for host certificates"`
}

func (in CertOptionsInput) toTypes() types.CertOptions {
	return types.CertOptions{
		CommonName:   in.CommonName,
		Organization: in.Organization,
		Country:      in.Country,
		ValidityDays: in.ValidityDays,
		KeyBits:      in.KeyBits,
		AltNames:     in.AltNames,
	}
}

// CertEmptyInput is the input of certificate tools without parameters.
type CertEmptyInput struct{}

// CertStatusOutput reports the root CA state.
type CertStatusOutput struct {
	Status *types.CertificateStatus `json:"status,omitempty"`
	Hint   string                   `json:"hint,omitempty"`
}

// CertRecordOutput returns one certificate.
type CertRecordOutput struct {
	Certificate *types.CertificateRecord `json:"certificate,omitempty"`
	Hint        string                   `json:"hint,omitempty"`
}

// CertGenerateHostInput is the input for cert_generate_host.
type CertGenerateHostInput struct {
	Hostname string           `json:"hostname" jsonschema:"Host name or IP address to issue a certificate for"`
	Options  CertOptionsInput `json:"options,omitzero" jsonschema:"Generation options"`
}

// CertExportInput is the input for cert_export.
type CertExportInput struct {
	Format   string `json:"format,omitempty" jsonschema:"'pem' (default), 'der' or 'p12'"`
	Password string `json:"password,omitempty" jsonschema:"Password protecting a p12 export (required for p12)"`
}

// CertExportOutput is the output for cert_export.
type CertExportOutput struct {
	Format string `json:"format"`
	Path   string `json:"path"`
	Size   int    `json:"size"`
	PEM    string `json:"pem,omitempty"`
}

// CertMitmConfigOutput is the output for cert_mitm_config.
type CertMitmConfigOutput struct {
	Config *types.MitmProxyConfig `json:"config,omitempty"`
	Hint   string                 `json:"hint,omitempty"`
}

// CertClearCacheOutput is the output for cert_clear_cache.
type CertClearCacheOutput struct {
	Cleared int `json:"cleared"`
}

// ToolCertInitialize loads or creates the root CA.
func ToolCertInitialize(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertStatusOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertStatusOutput, error) {
		status, err := d.Certs.Initialize(ctx)
		if err != nil {
			return nil, CertStatusOutput{}, WrapError(err)
		}
		return nil, CertStatusOutput{Status: status, Hint: statusHint(status)}, nil
	}
}

// ToolCertGenerateRoot creates a new root CA, replacing any existing one.
func ToolCertGenerateRoot(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertOptionsInput) (*sdkmcp.CallToolResult, CertRecordOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertOptionsInput) (*sdkmcp.CallToolResult, CertRecordOutput, error) {
		rec, err := d.Certs.GenerateRootCA(ctx, input.toTypes())
		if err != nil {
			return nil, CertRecordOutput{}, WrapError(err)
		}
		out := CertRecordOutput{
			Certificate: rec,
			Hint:        "Run cert_trust so clients accept intercepted HTTPS traffic, and cert_clear_cache if hosts were issued by a previous root.",
		}
		if rec.Degraded() {
			out.Hint = "openssl was not found, so a degraded certificate was produced. It cannot be trusted or exported as DER/p12; install openssl and regenerate."
		}
		return nil, out, nil
	}
}

// ToolCertGenerateHost issues a certificate for a host signed by the root.
func ToolCertGenerateHost(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertGenerateHostInput) (*sdkmcp.CallToolResult, CertRecordOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertGenerateHostInput) (*sdkmcp.CallToolResult, CertRecordOutput, error) {
		rec, err := d.Certs.GenerateHostCertificate(ctx, input.Hostname, input.Options.toTypes())
		if err != nil {
			return nil, CertRecordOutput{}, WrapError(err)
		}
		return nil, CertRecordOutput{Certificate: rec}, nil
	}
}

// ToolCertTrust installs the root CA in the system trust store.
func ToolCertTrust(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertStatusOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertStatusOutput, error) {
		if err := d.Certs.Trust(ctx); err != nil {
			return nil, CertStatusOutput{}, WrapError(err)
		}
		status := d.Certs.Status(ctx)
		return nil, CertStatusOutput{Status: status, Hint: statusHint(status)}, nil
	}
}

// ToolCertUntrust removes the root CA from the system trust store.
func ToolCertUntrust(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertStatusOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertStatusOutput, error) {
		if err := d.Certs.Untrust(ctx); err != nil {
			return nil, CertStatusOutput{}, WrapError(err)
		}
		status := d.Certs.Status(ctx)
		return nil, CertStatusOutput{Status: status}, nil
	}
}

// ToolCertStatus reports the root CA state.
func ToolCertStatus(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertStatusOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertStatusOutput, error) {
		status := d.Certs.Status(ctx)
		return nil, CertStatusOutput{Status: status, Hint: statusHint(status)}, nil
	}
}

// ToolCertExport exports the root CA. PEM exports include the certificate
// text inline.
func ToolCertExport(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertExportInput) (*sdkmcp.CallToolResult, CertExportOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertExportInput) (*sdkmcp.CallToolResult, CertExportOutput, error) {
		exp, err := d.Certs.ExportRootCA(ctx, types.ExportFormat(input.Format), input.Password)
		if err != nil {
			return nil, CertExportOutput{}, WrapError(err)
		}
		out := CertExportOutput{
			Format: string(exp.Format),
			Path:   exp.Path,
			Size:   exp.Size,
		}
		if exp.Format == types.ExportPEM {
			out.PEM = string(exp.Data)
		}
		return nil, out, nil
	}
}

// ToolCertMitmConfig returns the interception proxy configuration.
func ToolCertMitmConfig(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertMitmConfigOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertMitmConfigOutput, error) {
		cfg, err := d.Certs.MitmProxyConfig()
		if err != nil {
			return nil, CertMitmConfigOutput{}, WrapError(err)
		}
		out := CertMitmConfigOutput{
			Config: cfg,
			Hint:   "capture_start with tool=mitmdump passes these arguments automatically.",
		}
		if cfg.Degraded {
			out.Hint = "The root is a degraded certificate; proxies will reject it. Install openssl and run cert_generate_root."
		}
		return nil, out, nil
	}
}

// ToolCertClearCache drops cached host certificates.
func ToolCertClearCache(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertClearCacheOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input CertEmptyInput) (*sdkmcp.CallToolResult, CertClearCacheOutput, error) {
		return nil, CertClearCacheOutput{Cleared: d.Certs.ClearCertificateCache()}, nil
	}
}

func statusHint(st *types.CertificateStatus) string {
	switch st.State {
	case types.CertNotGenerated:
		return "No root CA yet. Run cert_generate_root."
	case types.CertExpired:
		return "The root CA has expired. Run cert_generate_root, then cert_trust."
	case types.CertGenerated:
		if st.Root != nil && st.Root.Degraded() {
			return "The root is a degraded certificate and cannot be trusted. Install openssl and run cert_generate_root."
		}
		if st.TrustCheckError != "" {
			return "Trust state could not be checked: " + st.TrustCheckError
		}
		return "Root CA exists but is not trusted. Run cert_trust to intercept HTTPS."
	case types.CertTrusted:
		if st.Root != nil {
			days := int(time.Until(st.Root.ValidTo).Hours() / 24)
			return hintf("Root CA is trusted and valid for %d more days.", days)
		}
	}
	return ""
}
