package controller

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// NewHandler returns a reverse proxy that presents requests under origin
// (the public URL clients see) and sends them through rt, which is usually
// a Registration.
func NewHandler(rt http.RoundTripper, origin *url.URL, logger zerolog.Logger) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()

			id := pr.In.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			pr.Out.Header.Set(RequestIDHeader, id)
		},
		Transport: rt,
		ModifyResponse: func(resp *http.Response) error {
			if resp.Request != nil {
				if id := resp.Request.Header.Get(RequestIDHeader); id != "" {
					resp.Header.Set(RequestIDHeader, id)
				}
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			status := http.StatusBadGateway
			if errors.Is(err, ErrOffline) {
				status = http.StatusServiceUnavailable
			}

			logger.Warn().
				Err(err).
				Str("url", r.URL.String()).
				Str("request_id", r.Header.Get(RequestIDHeader)).
				Int("status_code", status).
				Msg("Proxy request failed")

			http.Error(w, http.StatusText(status), status)
		},
	}
}

// UpstreamTransport returns a transport that dials upstream for every
// request while the request keeps its public URL as identity.
func UpstreamTransport(upstream *url.URL, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &upstreamTransport{upstream: upstream, base: base}
}

type upstreamTransport struct {
	upstream *url.URL
	base     http.RoundTripper
}

func (t *upstreamTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.upstream.Scheme
	out.URL.Host = t.upstream.Host
	if p := strings.TrimSuffix(t.upstream.Path, "/"); p != "" {
		out.URL.Path = p + out.URL.Path
		out.URL.RawPath = ""
	}
	out.Host = ""
	return t.base.RoundTrip(out)
}
