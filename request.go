package sentry_client

import (
	"context"
	"mime"
	"net/http"
	"strings"
)

// maxFormMemory is how much of a multipart body is kept in memory, as in http.Request.FormValue
const maxFormMemory = 32 << 20

// RequestContext is the ambient HTTP request information attached to events.
// It is always passed explicitly, the builder never reads global state.
type RequestContext struct {
	Secure      bool
	Host        string
	ScriptPath  string
	QueryString string
	Method      string
	Headers     map[string]string
	Cookies     map[string]string
	Form        map[string]string
	Env         map[string]string
	Session     map[string]string
}

// URL synthesizes scheme://host+scriptPath, https iff the request came in on a secure port
func (rc RequestContext) URL() string {
	if rc.Host == "" && rc.ScriptPath == "" {
		return ""
	}
	scheme := "http"
	if rc.Secure {
		scheme = "https"
	}
	return scheme + "://" + rc.Host + rc.ScriptPath
}

type contextKey int

const requestContextKey contextKey = 0

// WithRequestContext stores rc on ctx
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFrom returns the RequestContext stored on ctx
func RequestContextFrom(ctx context.Context) (RequestContext, bool) {
	if ctx == nil {
		return RequestContext{}, false
	}
	rc, ok := ctx.Value(requestContextKey).(RequestContext)
	return rc, ok
}

// RequestContextFromHTTP captures the parts of r that are reported with events.
// Form data is taken from r.PostForm, call parseFormBody first when the body
// has not been parsed yet.
func RequestContextFromHTTP(r *http.Request) RequestContext {
	rc := RequestContext{
		Secure:      r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"),
		Host:        r.Host,
		ScriptPath:  r.URL.Path,
		QueryString: r.URL.RawQuery,
		Method:      r.Method,
		Headers:     make(map[string]string, len(r.Header)),
		Env: map[string]string{
			"REMOTE_ADDR":     r.RemoteAddr,
			"SERVER_PROTOCOL": r.Proto,
			"REQUEST_URI":     r.RequestURI,
		},
	}

	for name, values := range r.Header {
		if strings.EqualFold(name, "Cookie") {
			continue
		}
		rc.Headers[name] = strings.Join(values, ", ")
	}

	if cookies := r.Cookies(); len(cookies) > 0 {
		rc.Cookies = make(map[string]string, len(cookies))
		for _, c := range cookies {
			rc.Cookies[c.Name] = c.Value
		}
	}

	if len(r.PostForm) > 0 {
		rc.Form = make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			rc.Form[k] = strings.Join(v, ", ")
		}
	}

	return rc
}

// parseFormBody parses url-encoded and multipart bodies. The parsed values stay
// on r, so handlers calling ParseForm or FormValue later still see them.
func parseFormBody(r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		_ = r.ParseForm()
	case "multipart/form-data":
		_ = r.ParseMultipartForm(maxFormMemory)
	}
}

// Middleware stores a RequestContext for every request so capture calls made
// while handling it pick the request up without passing it around
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parseFormBody(r)
		ctx := WithRequestContext(r.Context(), RequestContextFromHTTP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
