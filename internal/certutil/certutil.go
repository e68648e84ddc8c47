// Package certutil loads TLS material for the Listener and Connector and
// prepares a peer certificate for the Verifier HTTP call.
package certutil

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
	"strings"
	"time"
)

// LoadKeyPair reads a PEM certificate and key file pair from disk.
func LoadKeyPair(certPath, keyPath string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load key pair %s/%s: %w", certPath, keyPath, err)
	}
	return cert, nil
}

// LoadCAPool reads a PEM CA certificate file and returns a pool containing it.
func LoadCAPool(caPath string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA file %s: %w", caPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from CA file %s", caPath)
	}
	return pool, nil
}

// LeafToPEM re-encodes a DER-encoded leaf certificate as PEM, as required
// before it is percent-encoded for the X-Mtls-Clientcert header.
func LeafToPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// PercentEncodeHeader escapes every non-alphanumeric byte of the PEM blob as
// "%XX", matching the Verifier's expected X-Mtls-Clientcert encoding (the
// Rust NON_ALPHANUMERIC escape set). url.QueryEscape is not used here: it
// leaves '-', '_', '.', '~' unescaped and encodes spaces as '+' rather than
// "%20", so the PEM's "-----BEGIN/END-----" markers would travel unescaped.
func PercentEncodeHeader(pemBytes []byte) string {
	var b strings.Builder
	for _, c := range pemBytes {
		if isAlphaNumeric(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isAlphaNumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// GenerateSelfSigned produces an in-memory, short-lived self-signed
// certificate for tests that need a tls.Config without touching disk.
func GenerateSelfSigned(commonName string) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{Organization: []string{"tunnelbroker test"}, CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return tls.X509KeyPair(certPEM, keyPEM)
}
