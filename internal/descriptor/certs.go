package descriptor

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// LoadCertificates reads PEM or DER certificates. Relative paths are
// resolved against dir.
func LoadCertificates(paths []string, dir string) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) && dir != "" {
			p = filepath.Join(dir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate: %w", err)
		}
		parsed, err := ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("certificate %s: %w", p, err)
		}
		certs = append(certs, parsed...)
	}
	return certs, nil
}

// ParseCertificates decodes all PEM CERTIFICATE blocks, or a single DER
// certificate when no PEM block is present.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if len(certs) > 0 {
		return certs, nil
	}

	c, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("no certificate found: %w", err)
	}
	return []*x509.Certificate{c}, nil
}
