// Package cert manages the local certificate authority the proxy uses to
// re-sign intercepted TLS traffic: generation, loading, system trust
// installation, and the client environment exports.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"
)

const (
	caCommonName   = "AgentProbe CA"
	caOrganization = "AgentProbe"
	caValidity     = 10 * 365 * 24 * time.Hour
	caKeyBits      = 2048
)

// EnsureCA generates the CA certificate and key at the given paths when they
// do not both exist yet. Returns true when a new CA was generated.
func EnsureCA(certPath, keyPath string) (bool, error) {
	certExists := fileExists(certPath)
	keyExists := fileExists(keyPath)
	if certExists && keyExists {
		return false, nil
	}
	if certExists != keyExists {
		return false, fmt.Errorf("partial CA state: one of %s, %s is missing", certPath, keyPath)
	}

	key, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return false, fmt.Errorf("generating CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return false, fmt.Errorf("generating serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   caCommonName,
			Organization: []string{caOrganization},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return false, fmt.Errorf("creating CA certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return false, fmt.Errorf("writing CA certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return false, fmt.Errorf("writing CA key: %w", err)
	}
	return true, nil
}

// Load reads the CA pair for use as the proxy's signing identity.
func Load(certPath, keyPath string) (tls.Certificate, error) {
	ca, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading CA pair: %w", err)
	}
	return ca, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
