package httpclient

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"CrmSync/internal/config"
)

// NewHTTPClient builds the CRM HTTP client: optional proxy, request timeout and gzip decoding.
func NewHTTPClient(cfg *config.CRMConfig, logger *logrus.Logger) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			logger.WithError(err).WithField("proxy", cfg.Proxy).Warn("invalid proxy url, connecting directly")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
			logger.WithField("proxy", proxyURL.Host).Info("crm http client using proxy")
		}
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &compressedTransport{transport: transport, logger: logger},
	}
}

// compressedTransport asks for gzip explicitly and decodes it, so the
// Accept-Encoding header survives proxies that strip the transport default.
type compressedTransport struct {
	transport http.RoundTripper
	logger    *logrus.Logger
}

func (c *compressedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.WithError(err).Warn("gzip response could not be decoded, passing body through")
			return resp, nil
		}
		resp.Body = &gzipReadCloser{Reader: gz, body: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	}
	return resp, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.ReadCloser
}

func (g *gzipReadCloser) Close() error {
	gzErr := g.Reader.Close()
	if err := g.body.Close(); err != nil {
		return err
	}
	return gzErr
}
