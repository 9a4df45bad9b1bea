// Package ipfs talks to the content-addressed storage provider: pinning
// uploads through the provider API and fetching content back through the
// metadata-store proxy with a public-gateway fallback.
package ipfs

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	defaultAPIBase       = "https://api.pinata.cloud"
	defaultPublicGateway = "https://gateway.pinata.cloud"
	defaultTimeout       = 60 * time.Second

	// maxFetchBytes bounds direct gateway reads; anything the local
	// transcode path consumes is capped at 100 MiB upstream.
	maxFetchBytes = 100<<20 + 1
)

// Config stores connectivity information for the pinning provider.
type Config struct {
	// JWT is the provider credential held by this backend. Uploads are
	// disabled when it is absent.
	JWT string

	// APIBase is the pinning API endpoint.
	APIBase string

	// GatewayDomain is the provider's authenticated dedicated gateway,
	// e.g. "example.mypinata.cloud". URLs on this domain are rewritten to
	// the public gateway before being handed to third parties.
	GatewayDomain string

	// PublicGateway serves content without credentials.
	PublicGateway string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Enabled reports whether uploads can be performed.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.JWT) != ""
}

// UploadMetadata names an upload for the pinning provider.
type UploadMetadata struct {
	Name      string
	Keyvalues map[string]string
}

// UploadResult describes stored content.
type UploadResult struct {
	CID         string
	Fingerprint string
	Size        int64
}

// ProxyFetcher fetches pinned content through the metadata-store
// collaborator, which holds the gateway credential.
type ProxyFetcher interface {
	ProxyContent(ctx context.Context, cid string) (content []byte, contentType string, status int, err error)
}

// Client is the storage gateway consumed by the pipeline.
type Client interface {
	Enabled() bool
	Upload(ctx context.Context, data []byte, meta UploadMetadata) (UploadResult, error)
	PublicURL(cid string) string
	RewriteURL(raw string) string
	FetchViaProxy(ctx context.Context, cid string) ([]byte, string, error)
}

// NewClient constructs a gateway client. When the config carries no
// credential a disabled client is returned so callers degrade instead of
// crashing.
func NewClient(cfg Config, proxy ProxyFetcher) Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.PublicGateway == "" {
		cfg.PublicGateway = defaultPublicGateway
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if !cfg.Enabled() {
		return disabledClient{publicGateway: strings.TrimRight(cfg.PublicGateway, "/"), proxy: proxy, httpClient: cfg.HTTPClient, logger: logger}
	}
	return &pinClient{cfg: cfg, proxy: proxy, logger: logger}
}

// Fingerprint returns the hex blake2b-256 digest of data, used as the
// local content fingerprint for asset id derivation and integrity logs.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type pinClient struct {
	cfg    Config
	proxy  ProxyFetcher
	logger *slog.Logger
}

func (c *pinClient) Enabled() bool { return true }

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
	PinSize  int64  `json:"PinSize"`
}

// Upload pins the raw bytes and returns their content address. Identical
// bytes may pin to the same CID, but callers must not rely on that.
func (c *pinClient) Upload(ctx context.Context, data []byte, meta UploadMetadata) (UploadResult, error) {
	if len(data) == 0 {
		return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: fmt.Errorf("empty payload")}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = "upload.bin"
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: err}
	}
	if encoded, err := json.Marshal(map[string]any{"name": name, "keyvalues": meta.Keyvalues}); err == nil {
		_ = writer.WriteField("pinataMetadata", string(encoded))
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: err}
	}

	endpoint := strings.TrimRight(c.cfg.APIBase, "/") + "/pinning/pinFileToIPFS"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.JWT))

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))}
	}

	var pinned pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pinned); err != nil {
		return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(pinned.IpfsHash) == "" {
		return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: fmt.Errorf("provider returned no content id")}
	}

	result := UploadResult{CID: pinned.IpfsHash, Fingerprint: Fingerprint(data), Size: int64(len(data))}
	c.logger.Info("content pinned", "cid", result.CID, "size", result.Size, "fingerprint", result.Fingerprint[:12])
	return result, nil
}

// PublicURL derives the authentication-free fetch URL for a content id so
// downstream services can read it without this backend's credentials.
func (c *pinClient) PublicURL(cid string) string {
	return publicURL(strings.TrimRight(c.cfg.PublicGateway, "/"), cid)
}

// RewriteURL swaps the authenticated dedicated-gateway host for the public
// gateway host, leaving other URLs untouched.
func (c *pinClient) RewriteURL(raw string) string {
	domain := strings.TrimSpace(c.cfg.GatewayDomain)
	if domain == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(parsed.Host, domain) {
		return raw
	}
	public, err := url.Parse(strings.TrimRight(c.cfg.PublicGateway, "/"))
	if err != nil {
		return raw
	}
	parsed.Scheme = public.Scheme
	parsed.Host = public.Host
	return parsed.String()
}

// FetchViaProxy retrieves content through the metadata-store proxy to
// avoid cross-origin failures on the authenticated gateway, falling back
// to a direct public-gateway fetch. Empty content from both paths is a
// fetch failure, never a silent success.
func (c *pinClient) FetchViaProxy(ctx context.Context, cid string) ([]byte, string, error) {
	return fetchViaProxy(ctx, c.proxy, c.cfg.HTTPClient, c.PublicURL(cid), cid, c.logger)
}

type disabledClient struct {
	publicGateway string
	proxy         ProxyFetcher
	httpClient    *http.Client
	logger        *slog.Logger
}

func (d disabledClient) Enabled() bool { return false }

func (d disabledClient) Upload(ctx context.Context, data []byte, meta UploadMetadata) (UploadResult, error) {
	return UploadResult{}, &Error{Kind: ErrUpload, Op: "pin", Err: fmt.Errorf("storage gateway not configured")}
}

func (d disabledClient) PublicURL(cid string) string {
	return publicURL(d.publicGateway, cid)
}

func (d disabledClient) RewriteURL(raw string) string { return raw }

// FetchViaProxy still works without the pinning credential: the proxy and
// the public gateway are both credential-free from this process's view.
func (d disabledClient) FetchViaProxy(ctx context.Context, cid string) ([]byte, string, error) {
	return fetchViaProxy(ctx, d.proxy, d.httpClient, d.PublicURL(cid), cid, d.logger)
}

func publicURL(gateway, cid string) string {
	trimmed := strings.TrimSpace(cid)
	if trimmed == "" {
		return ""
	}
	return gateway + "/ipfs/" + trimmed
}

func fetchViaProxy(ctx context.Context, proxy ProxyFetcher, client *http.Client, directURL, cid string, logger *slog.Logger) ([]byte, string, error) {
	if proxy != nil {
		content, contentType, status, err := proxy.ProxyContent(ctx, cid)
		if err == nil && status >= 200 && status < 300 && len(content) > 0 {
			return content, contentType, nil
		}
		if err != nil {
			logger.Warn("proxy fetch failed, trying direct gateway", "cid", cid, "error", err)
		} else {
			logger.Warn("proxy fetch returned no content, trying direct gateway", "cid", cid, "status", status)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directURL, nil)
	if err != nil {
		return nil, "", &Error{Kind: ErrFetch, Op: "fetch", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", &Error{Kind: ErrFetch, Op: "fetch", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &Error{Kind: ErrFetch, Op: "fetch", Err: fmt.Errorf("gateway status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", &Error{Kind: ErrFetch, Op: "fetch", Err: err}
	}
	if len(data) == 0 {
		return nil, "", &Error{Kind: ErrFetch, Op: "fetch", Err: fmt.Errorf("empty content for %s", cid)}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}
