// Package tlsutil centralizes hardened TLS settings for the API server
// and outbound HTTP clients: TLS 1.2+ with AEAD-only cipher suites.
package tlsutil
