package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
)

// ErrNoSAEIdentity is returned when a certificate carries neither a common
// name nor an organizational unit to identify the SAE.
var ErrNoSAEIdentity = errors.New("certificate does not identify an SAE")

// CertificateInfo is the identity a verified client certificate presents.
type CertificateInfo struct {
	SAEID   string
	Subject string
	Serial  string
}

// SAEIdentityFromCertificate extracts the SAE identity from a verified
// client certificate. The common name is used when present, otherwise the
// first organizational unit.
func SAEIdentityFromCertificate(cert *x509.Certificate) (CertificateInfo, error) {
	if cert == nil {
		return CertificateInfo{}, ErrNoSAEIdentity
	}

	saeID := cert.Subject.CommonName
	if saeID == "" && len(cert.Subject.OrganizationalUnit) > 0 {
		saeID = cert.Subject.OrganizationalUnit[0]
	}
	if saeID == "" {
		return CertificateInfo{}, ErrNoSAEIdentity
	}

	return CertificateInfo{
		SAEID:   saeID,
		Subject: cert.Subject.String(),
		Serial:  cert.SerialNumber.Text(16),
	}, nil
}

// VerifyCertificate validates that a certificate matches a given private key and has the expected common name.
// It performs the following checks:
//   - The certificate can be parsed correctly
//   - The common name matches the expected value
//   - The public key in the certificate corresponds to the provided private key
func VerifyCertificate(keyPEM, certPEM []byte, expectedCN string) error {
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != "PRIVATE KEY" {
		return errors.New("failed to decode private key PEM block")
	}

	privateKey, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return errors.New("failed to decode certificate PEM block")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	if cert.Subject.CommonName != expectedCN {
		return fmt.Errorf("CommonName is %s, expected %s", cert.Subject.CommonName, expectedCN)
	}

	signer, ok := privateKey.(crypto.Signer)
	if !ok {
		return errors.New("unsupported key type")
	}
	certKey, ok := cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !certKey.Equal(signer.Public()) {
		return errors.New("private key doesn't match certificate")
	}
	return nil
}

// CreateCSRWithRandomKey generates a new ECDSA key pair and creates a Certificate Signing Request (CSR)
// with the specified Common Name (CN) and optional organizational unit. hosts may contain
// DNS names and IP addresses.
//
// Returns:
//   - Private key in PEM format
//   - CSR in PEM format
//   - Error if key generation or CSR creation fails
func CreateCSRWithRandomKey(cn, ou string, hosts []string) ([]byte, TLSCSR, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	subject := pkix.Name{CommonName: cn}
	if ou != "" {
		subject.OrganizationalUnit = []string{ou}
	}

	csrTemplate := x509.CertificateRequest{
		Subject:            subject,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			csrTemplate.IPAddresses = append(csrTemplate.IPAddresses, ip)
		} else if h != "" {
			csrTemplate.DNSNames = append(csrTemplate.DNSNames, h)
		}
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &csrTemplate, privateKey)
	if err != nil {
		return nil, nil, err
	}

	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})

	keyPEM, err := marshalPrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}
	return keyPEM, TLSCSR(csrPEM), nil
}

func marshalPrivateKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func randomSerial() (*big.Int, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serialNumber, nil
}
