package sentry_client

import (
	"strings"
)

// DSN represents a parsed Sentry DSN
type DSN struct {
	String     string
	Scheme     string
	PublicKey  string
	PrivateKey string
	Host       string // host[:port] as written in the DSN
	Path       string // path between host and project id, without trailing slash
	ProjectID  string

	// Endpoint is scheme://host/path with the project id removed
	Endpoint string
}

// ParseDSN decomposes a DSN of the form scheme://publicKey@host/path.../projectId.
// With legacy set, the credentials must be publicKey:privateKey. No network
// access happens here.
func ParseDSN(dsnStr string, legacy bool) (*DSN, error) {
	dsnStr = strings.TrimSpace(dsnStr)
	if dsnStr == "" {
		return nil, parseError("malformed DSN: DSN is empty")
	}

	schemeEnd := strings.Index(dsnStr, "://")
	if schemeEnd <= 0 {
		return nil, parseError("malformed DSN %q: missing scheme separator", dsnStr)
	}
	scheme := dsnStr[:schemeEnd]
	rest := dsnStr[schemeEnd+3:]

	if scheme != "http" && scheme != "https" {
		return nil, parseError("malformed DSN %q: scheme must be either \"http\" or \"https\"", dsnStr)
	}

	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return nil, parseError("malformed DSN %q: missing credentials", dsnStr)
	}
	userInfo := rest[:at]
	location := rest[at+1:]
	if strings.Contains(userInfo, "@") {
		return nil, parseError("malformed DSN %q: credentials must not contain '@'", dsnStr)
	}

	publicKey, privateKey, hasPrivate := strings.Cut(userInfo, ":")
	if publicKey == "" {
		return nil, parseError("malformed DSN %q: missing public key", dsnStr)
	}
	if legacy && (!hasPrivate || privateKey == "") {
		return nil, parseError("malformed DSN %q: legacy DSN must carry publicKey:privateKey", dsnStr)
	}
	if !legacy && hasPrivate {
		return nil, parseError("malformed DSN %q: private key is only accepted in legacy DSNs", dsnStr)
	}

	slash := strings.LastIndex(location, "/")
	if slash <= 0 {
		return nil, parseError("malformed DSN %q: missing project path segment", dsnStr)
	}
	hostPath := location[:slash]
	projectID := location[slash+1:]
	if projectID == "" {
		return nil, parseError("malformed DSN %q: missing project ID", dsnStr)
	}
	if strings.ContainsAny(projectID, "?#") {
		return nil, parseError("malformed DSN %q: project ID must be the last path segment", dsnStr)
	}

	host, path, _ := strings.Cut(hostPath, "/")
	if host == "" {
		return nil, parseError("malformed DSN %q: missing host", dsnStr)
	}
	if path != "" {
		path = "/" + strings.TrimSuffix(path, "/")
	}

	return &DSN{
		String:     dsnStr,
		Scheme:     scheme,
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Host:       host,
		Path:       path,
		ProjectID:  projectID,
		Endpoint:   scheme + "://" + host + path,
	}, nil
}

// StoreURL returns the store API endpoint URL
func (d *DSN) StoreURL() string {
	return StoreURL(d.Endpoint, d.ProjectID)
}

// StoreURL builds endpoint/api/projectID/store/
func StoreURL(endpoint, projectID string) string {
	return strings.TrimSuffix(endpoint, "/") + "/api/" + projectID + "/store/"
}
