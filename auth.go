package sentry_client

import (
	"fmt"
)

// AuthHeader creates the X-Sentry-Auth header value
func AuthHeader(protocolVersion string, unixTimeMillis int64, publicKey, clientName, clientVersion string) string {
	return fmt.Sprintf("Sentry sentry_version=%s, sentry_timestamp=%d, sentry_key=%s, sentry_client=%s/%s",
		protocolVersion, unixTimeMillis, publicKey, clientName, clientVersion)
}

// withSecret appends the private key for servers still expecting legacy DSN auth
func withSecret(header, privateKey string) string {
	if privateKey == "" {
		return header
	}
	return header + ", sentry_secret=" + privateKey
}
