package types

import "time"

// CertFlavor distinguishes real X.509 output from the degraded envelope that
// is produced when no signing tool is installed.
type CertFlavor string

const (
	FlavorX509     CertFlavor = "x509"
	FlavorDegraded CertFlavor = "degraded"
)

// CertificateRecord describes a root or host certificate.
type CertificateRecord struct {
	CommonName   string     `json:"common_name"`
	Organization string     `json:"organization,omitempty"`
	ValidFrom    time.Time  `json:"valid_from"`
	ValidTo      time.Time  `json:"valid_to"`
	SerialNumber string     `json:"serial_number"`
	Fingerprint  string     `json:"fingerprint"` // SHA-256, colon separated hex
	IsCA         bool       `json:"is_ca"`
	AltNames     []string   `json:"alt_names,omitempty"`
	Flavor       CertFlavor `json:"flavor"`
	CertPath     string     `json:"cert_path,omitempty"`
	KeyPath      string     `json:"key_path,omitempty"`
}

// Degraded reports whether the record is the non-standard fallback envelope.
func (r *CertificateRecord) Degraded() bool {
	return r.Flavor == FlavorDegraded
}

// CertState is the root CA lifecycle state.
type CertState string

const (
	CertNotGenerated CertState = "not_generated"
	CertGenerated    CertState = "generated"
	CertTrusted      CertState = "trusted"
	CertExpired      CertState = "expired"
)

// CertificateStatus reports the root CA state.
type CertificateStatus struct {
	State   CertState          `json:"state"`
	Root    *CertificateRecord `json:"root,omitempty"`
	CertDir string             `json:"cert_dir"`
	// TrustCheckError is set when the trust store could not be queried.
	TrustCheckError string `json:"trust_check_error,omitempty"`
}

// CertOptions tunes certificate generation. Zero values fall back to defaults.
type CertOptions struct {
	CommonName   string   `json:"common_name,omitempty"`
	Organization string   `json:"organization,omitempty"`
	Country      string   `json:"country,omitempty"`
	ValidityDays int      `json:"validity_days,omitempty"`
	KeyBits      int      `json:"key_bits,omitempty"`
	AltNames     []string `json:"alt_names,omitempty"`
}

// ExportFormat selects the root CA export encoding.
type ExportFormat string

const (
	ExportPEM    ExportFormat = "pem"
	ExportDER    ExportFormat = "der"
	ExportPKCS12 ExportFormat = "p12"
)

// ExportedCertificate is the result of a root CA export.
type ExportedCertificate struct {
	Format ExportFormat `json:"format"`
	Path   string       `json:"path"`
	Data   []byte       `json:"-"`
	Size   int          `json:"size"`
}

// MitmProxyConfig tells an intercepting proxy where to find the CA material.
type MitmProxyConfig struct {
	CertDir      string   `json:"cert_dir"`
	CACertPath   string   `json:"ca_cert_path"`
	CAKeyPath    string   `json:"ca_key_path"`
	CombinedPath string   `json:"combined_path"` // Key and cert in one PEM file
	Args         []string `json:"args,omitempty"`
	Degraded     bool     `json:"degraded"`
}
