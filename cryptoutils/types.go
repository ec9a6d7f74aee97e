package cryptoutils

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	pemCertificate        = "CERTIFICATE"
	pemCertificateRequest = "CERTIFICATE REQUEST"
)

// TLSCSR is a PEM certificate signing request handed to kme-ca sign-csr.
type TLSCSR []byte

// TLSCert is a PEM leaf certificate of a KME or an SAE.
type TLSCert []byte

// CACert is the PEM certificate of the CA SAE client certificates chain to.
type CACert []byte

func derFromPEM(data []byte, blockType string) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return nil, fmt.Errorf("expected a PEM %s block", blockType)
	}
	return block.Bytes, nil
}

// NewTLSCSR returns data if it holds a parseable CSR.
func NewTLSCSR(data []byte) (TLSCSR, error) {
	csr := TLSCSR(data)
	if _, err := csr.GetX509CSR(); err != nil {
		return nil, fmt.Errorf("invalid CSR: %w", err)
	}
	return csr, nil
}

func (csr TLSCSR) GetX509CSR() (*x509.CertificateRequest, error) {
	der, err := derFromPEM(csr, pemCertificateRequest)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificateRequest(der)
}

// NewTLSCert returns data if it holds a parseable certificate.
func NewTLSCert(data []byte) (TLSCert, error) {
	cert := TLSCert(data)
	if _, err := cert.GetX509Cert(); err != nil {
		return nil, fmt.Errorf("invalid certificate: %w", err)
	}
	return cert, nil
}

func (cert TLSCert) GetX509Cert() (*x509.Certificate, error) {
	der, err := derFromPEM(cert, pemCertificate)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

// NewCACert returns data if it holds a certificate with the CA flag set.
func NewCACert(data []byte) (CACert, error) {
	ca := CACert(data)
	if err := ca.Validate(); err != nil {
		return nil, err
	}
	return ca, nil
}

func (ca CACert) Validate() error {
	cert, err := ca.GetX509Cert()
	if err != nil {
		return fmt.Errorf("invalid CA certificate: %w", err)
	}
	if !cert.IsCA {
		return errors.New("invalid CA certificate: CA flag not set")
	}
	return nil
}

func (ca CACert) GetX509Cert() (*x509.Certificate, error) {
	return TLSCert(ca).GetX509Cert()
}

// CertPool returns a pool trusting only this CA, as used for
// tls.Config.ClientCAs.
func (ca CACert) CertPool() (*x509.CertPool, error) {
	caCert, err := ca.GetX509Cert()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	return pool, nil
}

// VerifyCertificate checks that cert chains to this CA. Any extended key
// usage is accepted so KME server and SAE client certificates both pass.
func (ca CACert) VerifyCertificate(cert TLSCert) error {
	pool, err := ca.CertPool()
	if err != nil {
		return err
	}
	leaf, err := cert.GetX509Cert()
	if err != nil {
		return err
	}
	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}
