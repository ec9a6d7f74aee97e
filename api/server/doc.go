// Package server runs the KME HTTP listener: request logging, health and
// drain endpoints, optional pprof, the metrics side server and TLS with
// mandatory client certificates when a client CA is configured.
//
// API handlers are mounted through RouteRegistrar so the server stays
// unaware of the ETSI routes it carries.
package server
