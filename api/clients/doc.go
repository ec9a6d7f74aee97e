/*
Package clients provides a client for the ETSI GS QKD 014 key delivery API
served by a KME.

KMEClient wraps a resty client configured with the SAE certificate, so the
KME identifies the caller from the TLS handshake. Every call takes a
context and returns the decoded ETSI response. Non-2xx responses come back
as *APIError carrying the HTTP status and the ETSI error body.

# Example Usage

	client, err := clients.NewKMEClient("https://kme-a.example.com:8443",
	    clients.WithClientCertificate("sae1.pem", "sae1.key"),
	    clients.WithRootCA("ca.pem"),
	)

	// Master side: request two keys shared with SAE_002
	keys, err := client.EncKeys(ctx, "SAE_002", api.KeyRequest{Number: &two})

	// Slave side (a client holding SAE_002's certificate)
	same, err := client.DecKeys(ctx, "SAE_001", []string{keys.Keys[0].KeyID})
*/
package clients
