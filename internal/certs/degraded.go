package certs

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"time"
)

const (
	degradedCertBlock = "TRAFFICLAB DEGRADED CERTIFICATE"
	degradedKeyBlock  = "TRAFFICLAB DEGRADED KEY"
)

// degradedPayload is the signed body of a degraded certificate.
type degradedPayload struct {
	CommonName   string    `json:"common_name"`
	Organization string    `json:"organization,omitempty"`
	Country      string    `json:"country,omitempty"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
	IsCA         bool      `json:"is_ca"`
	AltNames     []string  `json:"alt_names"`
}

type degradedEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// DegradedSigner writes HMAC-signed placeholder certificates. They are not
// X.509 and no TLS client will accept them; they keep the CA workflow usable
// on hosts without openssl.
type DegradedSigner struct {
	now func() time.Time
}

// NewDegradedSigner creates a degraded signer using the wall clock.
func NewDegradedSigner() *DegradedSigner {
	return &DegradedSigner{now: time.Now}
}

// GenerateRoot writes a random HMAC key and a self-issued envelope.
func (d *DegradedSigner) GenerateRoot(_ context.Context, req RootRequest) error {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating degraded key: %w", err)
	}
	if err := writePEM(req.KeyPath, degradedKeyBlock, key, 0o600); err != nil {
		return err
	}

	now := d.now().UTC()
	return d.writeEnvelope(req.CertPath, key, degradedPayload{
		CommonName:   req.CommonName,
		Organization: req.Organization,
		Country:      req.Country,
		Issuer:       req.CommonName,
		SerialNumber: req.Serial,
		ValidFrom:    now,
		ValidTo:      now.AddDate(0, 0, req.ValidityDays),
		IsCA:         true,
		AltNames:     []string{},
	})
}

// GenerateHost writes a host envelope signed with the root's HMAC key.
func (d *DegradedSigner) GenerateHost(_ context.Context, req HostRequest) error {
	caKey, err := readDegradedKey(req.CAKeyPath)
	if err != nil {
		return err
	}
	issuer, err := os.ReadFile(req.CACertPath)
	if err != nil {
		return fmt.Errorf("reading CA certificate: %w", err)
	}
	rootRec, err := parseRecord(issuer)
	if err != nil {
		return err
	}
	if isDegradedPEM(issuer) && !verifyDegraded(issuer, caKey) {
		return fmt.Errorf("%w: %s", ErrCAKeyMismatch, req.CAKeyPath)
	}

	hostKey := make([]byte, 32)
	if _, err := rand.Read(hostKey); err != nil {
		return fmt.Errorf("generating degraded key: %w", err)
	}
	if err := writePEM(req.KeyPath, degradedKeyBlock, hostKey, 0o600); err != nil {
		return err
	}

	now := d.now().UTC()
	return d.writeEnvelope(req.CertPath, caKey, degradedPayload{
		CommonName:   req.CommonName,
		Issuer:       rootRec.CommonName,
		SerialNumber: req.Serial,
		ValidFrom:    now,
		ValidTo:      now.AddDate(0, 0, req.ValidityDays),
		AltNames:     req.AltNames,
	})
}

// Convert refuses every format; degraded material only exists as PEM.
func (d *DegradedSigner) Convert(context.Context, ConvertRequest) error {
	return ErrDegradedCertificate
}

func (d *DegradedSigner) writeEnvelope(path string, key []byte, p degradedPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	env, err := json.Marshal(degradedEnvelope{Payload: payload, Signature: sign(key, payload)})
	if err != nil {
		return err
	}
	return writePEM(path, degradedCertBlock, env, 0o644)
}

func sign(key, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func isDegradedPEM(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil && block.Type == degradedCertBlock
}

// verifyDegraded checks an envelope signature against the issuer key.
func verifyDegraded(certPEM, key []byte) bool {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != degradedCertBlock {
		return false
	}
	var env degradedEnvelope
	if err := json.Unmarshal(block.Bytes, &env); err != nil {
		return false
	}
	return hmac.Equal([]byte(sign(key, env.Payload)), []byte(env.Signature))
}

func readDegradedKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("CA key %s: no PEM block", path)
	}
	if block.Type != degradedKeyBlock {
		// Real key material still yields a stable HMAC key.
		sum := sha256.Sum256(block.Bytes)
		return sum[:], nil
	}
	return block.Bytes, nil
}

func writePEM(path, blockType string, data []byte, mode os.FileMode) error {
	out := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: data})
	if err := os.WriteFile(path, out, mode); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, mode)
}
