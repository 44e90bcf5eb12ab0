package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/usestring/trafficlab/pkg/types"
)

// parseRecord reads the first certificate block in data, either X.509 or
// the degraded envelope.
func parseRecord(data []byte) (*types.CertificateRecord, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.New("no certificate PEM block")
		}
		switch block.Type {
		case "CERTIFICATE":
			return parseX509(block.Bytes)
		case degradedCertBlock:
			return parseDegraded(block.Bytes)
		}
	}
}

func parseX509(der []byte) (*types.CertificateRecord, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	alt := make([]string, 0, len(cert.DNSNames)+len(cert.IPAddresses))
	alt = append(alt, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		alt = append(alt, ip.String())
	}
	var org string
	if len(cert.Subject.Organization) > 0 {
		org = cert.Subject.Organization[0]
	}
	return &types.CertificateRecord{
		CommonName:   cert.Subject.CommonName,
		Organization: org,
		ValidFrom:    cert.NotBefore.UTC(),
		ValidTo:      cert.NotAfter.UTC(),
		SerialNumber: strings.ToUpper(cert.SerialNumber.Text(16)),
		Fingerprint:  fingerprint(der),
		IsCA:         cert.IsCA,
		AltNames:     alt,
		Flavor:       types.FlavorX509,
	}, nil
}

func parseDegraded(body []byte) (*types.CertificateRecord, error) {
	var env degradedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing degraded certificate: %w", err)
	}
	var p degradedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("parsing degraded payload: %w", err)
	}
	alt := p.AltNames
	if alt == nil {
		alt = []string{}
	}
	return &types.CertificateRecord{
		CommonName:   p.CommonName,
		Organization: p.Organization,
		ValidFrom:    p.ValidFrom.UTC(),
		ValidTo:      p.ValidTo.UTC(),
		SerialNumber: strings.ToUpper(p.SerialNumber),
		Fingerprint:  fingerprint(body),
		IsCA:         p.IsCA,
		AltNames:     alt,
		Flavor:       types.FlavorDegraded,
	}, nil
}

// fingerprint renders SHA-256 as colon-separated upper-case hex.
func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	h := strings.ToUpper(hex.EncodeToString(sum[:]))
	parts := make([]string, 0, len(sum))
	for i := 0; i < len(h); i += 2 {
		parts = append(parts, h[i:i+2])
	}
	return strings.Join(parts, ":")
}
