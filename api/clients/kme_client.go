package clients

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ruteri/qkd-kme/api"
	"github.com/ruteri/qkd-kme/cryptoutils"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       api.Error
}

func (e *APIError) Error() string {
	if e.Body.Message == "" {
		return fmt.Sprintf("kme returned %d", e.StatusCode)
	}
	return fmt.Sprintf("kme returned %d: %s", e.StatusCode, e.Body.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// KMEClient calls the key delivery API of a single KME.
type KMEClient struct {
	rc        *resty.Client
	tlsConfig *tls.Config
}

// Option configures a KMEClient.
type Option func(*KMEClient) error

// WithClientCertificate presents the SAE certificate on every connection.
func WithClientCertificate(certFile, keyFile string) Option {
	return func(c *KMEClient) error {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("failed to load client certificate: %w", err)
		}
		c.tlsConfig.Certificates = []tls.Certificate{cert}
		return nil
	}
}

// WithRootCA trusts only the CA in caFile for the KME server certificate.
func WithRootCA(caFile string) Option {
	return func(c *KMEClient) error {
		data, err := os.ReadFile(caFile)
		if err != nil {
			return fmt.Errorf("failed to read CA: %w", err)
		}
		pool, err := cryptoutils.CACert(data).CertPool()
		if err != nil {
			return err
		}
		c.tlsConfig.RootCAs = pool
		return nil
	}
}

// WithSAEHeader sends the caller identity in a header. Only honored by KMEs
// running in insecure header mode.
func WithSAEHeader(saeID string) Option {
	return func(c *KMEClient) error {
		c.rc.SetHeader(api.SAEIDHeader, saeID)
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *KMEClient) error {
		c.rc.SetTimeout(timeout)
		return nil
	}
}

// NewKMEClient creates a client for the KME at baseURL, e.g.
// "https://kme-a:8443".
func NewKMEClient(baseURL string, opts ...Option) (*KMEClient, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid KME url: %w", err)
	}

	c := &KMEClient{
		rc: resty.New().
			SetBaseURL(baseURL+api.APIPrefix).
			SetHeader("Accept", "application/json").
			SetTimeout(30 * time.Second),
		tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.rc.SetTLSClientConfig(c.tlsConfig)
	return c, nil
}

// Status fetches the pool status between the caller and slaveSAEID.
func (c *KMEClient) Status(ctx context.Context, slaveSAEID string) (*api.Status, error) {
	var out api.Status
	resp, err := c.request(ctx, &out).
		SetPathParam("sae", slaveSAEID).
		Get("/{sae}/status")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// EncKeys requests keys shared with slaveSAEID through POST enc_keys.
func (c *KMEClient) EncKeys(ctx context.Context, slaveSAEID string, req api.KeyRequest) (*api.KeyContainer, error) {
	var out api.KeyContainer
	resp, err := c.request(ctx, &out).
		SetPathParam("sae", slaveSAEID).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/{sae}/enc_keys")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEncKeys is the query-string form of EncKeys. Zero number or size
// leave the KME defaults in place.
func (c *KMEClient) GetEncKeys(ctx context.Context, slaveSAEID string, number, size int) (*api.KeyContainer, error) {
	var out api.KeyContainer
	r := c.request(ctx, &out).SetPathParam("sae", slaveSAEID)
	if number != 0 {
		r.SetQueryParam("number", strconv.Itoa(number))
	}
	if size != 0 {
		r.SetQueryParam("size", strconv.Itoa(size))
	}
	resp, err := r.Get("/{sae}/enc_keys")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecKeys retrieves keys masterSAEID allocated to the caller.
func (c *KMEClient) DecKeys(ctx context.Context, masterSAEID string, keyIDs []string) (*api.KeyContainer, error) {
	body := api.KeyIDs{KeyIDs: make([]api.KeyID, 0, len(keyIDs))}
	for _, id := range keyIDs {
		body.KeyIDs = append(body.KeyIDs, api.KeyID{KeyID: id})
	}

	var out api.KeyContainer
	resp, err := c.request(ctx, &out).
		SetPathParam("sae", masterSAEID).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/{sae}/dec_keys")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *KMEClient) request(ctx context.Context, result any) *resty.Request {
	return c.rc.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&api.Error{})
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("failed to call KME: %w", err)
	}
	if !resp.IsError() && resp.StatusCode() == http.StatusOK {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*api.Error); ok && body != nil {
		apiErr.Body = *body
	}
	return apiErr
}
