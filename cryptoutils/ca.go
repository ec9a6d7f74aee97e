package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// CertUsage selects the extended key usage of an issued certificate.
type CertUsage int

const (
	// ServerCert is issued to a KME serving the ETSI API.
	ServerCert CertUsage = iota
	// ClientCert is issued to an SAE calling the ETSI API.
	ClientCert
)

func (u CertUsage) extKeyUsage() []x509.ExtKeyUsage {
	if u == ServerCert {
		return []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	}
	return []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
}

// CertificateAuthority issues the KME and SAE certificates of a lab
// deployment.
type CertificateAuthority struct {
	key     *ecdsa.PrivateKey
	cert    *x509.Certificate
	certPEM CACert
}

// NewCertificateAuthority creates a self-signed CA valid for validity.
func NewCertificateAuthority(cn, organization string, validity time.Duration) (*CertificateAuthority, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serialNumber, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   cn,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &CertificateAuthority{
		key:     caKey,
		cert:    cert,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
	}, nil
}

// LoadCertificateAuthority restores a CA from its PEM certificate and key.
func LoadCertificateAuthority(certPEM, keyPEM []byte) (*CertificateAuthority, error) {
	caCert, err := NewCACert(certPEM)
	if err != nil {
		return nil, err
	}
	cert, err := caCert.GetX509Cert()
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("failed to decode CA key PEM block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported CA key type %T", parsed)
	}
	if !key.PublicKey.Equal(cert.PublicKey) {
		return nil, errors.New("CA key doesn't match CA certificate")
	}

	return &CertificateAuthority{key: key, cert: cert, certPEM: caCert}, nil
}

// CertPEM returns the CA certificate.
func (ca *CertificateAuthority) CertPEM() CACert {
	return ca.certPEM
}

// KeyPEM returns the CA private key in PKCS#8 PEM form.
func (ca *CertificateAuthority) KeyPEM() ([]byte, error) {
	return marshalPrivateKey(ca.key)
}

// SignCSR issues a certificate for the subject and names of csr.
func (ca *CertificateAuthority) SignCSR(csr TLSCSR, usage CertUsage, validity time.Duration) (TLSCert, error) {
	parsedCSR, err := csr.GetX509CSR()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSR: %w", err)
	}

	if err := parsedCSR.CheckSignature(); err != nil {
		return nil, fmt.Errorf("CSR signature verification failed: %w", err)
	}

	serialNumber, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               parsedCSR.Subject,
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           usage.extKeyUsage(),
		BasicConstraintsValid: true,
		DNSNames:              parsedCSR.DNSNames,
		IPAddresses:           parsedCSR.IPAddresses,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, ca.cert, parsedCSR.PublicKey, ca.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	}), nil
}

// IssueKeyPair generates a fresh key and a certificate for it. hosts may
// contain DNS names and IP addresses.
func (ca *CertificateAuthority) IssueKeyPair(cn, ou string, usage CertUsage, hosts []string, validity time.Duration) (keyPEM []byte, cert TLSCert, err error) {
	keyPEM, csr, err := CreateCSRWithRandomKey(cn, ou, hosts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CSR: %w", err)
	}

	cert, err = ca.SignCSR(csr, usage, validity)
	if err != nil {
		return nil, nil, err
	}
	return keyPEM, cert, nil
}
