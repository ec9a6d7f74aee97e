// Package api holds the ETSI GS QKD 014 wire types shared by the KME server
// and its clients, the server configuration and the mapping of KME errors
// to HTTP status codes.
//
// Sub-packages:
//   - etsihandler: the key delivery routes under /api/v1/keys
//   - server: HTTP(S) server lifecycle with health and drain endpoints
//   - clients: Go client of the key delivery API
package api
