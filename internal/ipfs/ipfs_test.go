package ipfs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubProxy struct {
	content     []byte
	contentType string
	status      int
	err         error
	calls       int
}

func (s *stubProxy) ProxyContent(ctx context.Context, cid string) ([]byte, string, int, error) {
	s.calls++
	return s.content, s.contentType, s.status, s.err
}

// TestUploadPinsAndFingerprints verifies the upload path sends the
// credential, parses the pinned content id, and computes a fingerprint.
func TestUploadPinsAndFingerprints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pinning/pinFileToIPFS" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-token" {
			t.Fatalf("expected bearer credential, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Fatalf("missing file part: %v", err)
		}
		_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: "QmStored", PinSize: 9})
	}))
	defer server.Close()

	client := NewClient(Config{JWT: "jwt-token", APIBase: server.URL, HTTPClient: server.Client()}, nil)
	result, err := client.Upload(context.Background(), []byte("some data"), UploadMetadata{Name: "demo.mp4"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.CID != "QmStored" {
		t.Fatalf("unexpected cid %q", result.CID)
	}
	if result.Fingerprint != Fingerprint([]byte("some data")) {
		t.Fatal("fingerprint mismatch")
	}
}

// TestUploadSurfacesUploadError verifies transport and status failures map
// to the upload error kind.
func TestUploadSurfacesUploadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(Config{JWT: "jwt-token", APIBase: server.URL, HTTPClient: server.Client()}, nil)
	_, err := client.Upload(context.Background(), []byte("payload"), UploadMetadata{})
	if !IsKind(err, ErrUpload) {
		t.Fatalf("expected upload error, got %v", err)
	}
}

// TestDisabledClientRejectsUpload verifies missing credentials degrade to
// a disabled gateway instead of a crash.
func TestDisabledClientRejectsUpload(t *testing.T) {
	client := NewClient(Config{}, nil)
	if client.Enabled() {
		t.Fatal("client without credential must report disabled")
	}
	_, err := client.Upload(context.Background(), []byte("payload"), UploadMetadata{})
	if !IsKind(err, ErrUpload) {
		t.Fatalf("expected upload error, got %v", err)
	}
}

// TestPublicURLAndRewrite verifies URL derivation and the rewrite of the
// authenticated gateway domain into the public form.
func TestPublicURLAndRewrite(t *testing.T) {
	client := NewClient(Config{
		JWT:           "jwt",
		GatewayDomain: "private.mypinata.cloud",
		PublicGateway: "https://gateway.pinata.cloud",
	}, nil)

	if got := client.PublicURL("QmTest"); got != "https://gateway.pinata.cloud/ipfs/QmTest" {
		t.Fatalf("unexpected public URL %q", got)
	}
	rewritten := client.RewriteURL("https://private.mypinata.cloud/ipfs/QmTest?x=1")
	if rewritten != "https://gateway.pinata.cloud/ipfs/QmTest?x=1" {
		t.Fatalf("unexpected rewrite %q", rewritten)
	}
	untouched := client.RewriteURL("https://example.com/video.mp4")
	if untouched != "https://example.com/video.mp4" {
		t.Fatalf("foreign URL must pass through, got %q", untouched)
	}
}

// TestFetchViaProxyPrefersProxy verifies proxy content is used when the
// proxy succeeds.
func TestFetchViaProxyPrefersProxy(t *testing.T) {
	proxy := &stubProxy{content: []byte("video-bytes"), contentType: "video/mp4", status: 200}
	client := NewClient(Config{JWT: "jwt"}, proxy)

	data, contentType, err := client.FetchViaProxy(context.Background(), "QmTest")
	if err != nil {
		t.Fatalf("FetchViaProxy: %v", err)
	}
	if string(data) != "video-bytes" || contentType != "video/mp4" {
		t.Fatalf("unexpected content %q %q", data, contentType)
	}
	if proxy.calls != 1 {
		t.Fatalf("expected one proxy call, got %d", proxy.calls)
	}
}

// TestFetchViaProxyFallsBackToDirect verifies the direct public-gateway
// fallback when the proxy fails.
func TestFetchViaProxyFallsBackToDirect(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ipfs/") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("direct-bytes"))
	}))
	defer gateway.Close()

	proxy := &stubProxy{err: errors.New("proxy unavailable")}
	client := NewClient(Config{JWT: "jwt", PublicGateway: gateway.URL, HTTPClient: gateway.Client()}, proxy)

	data, contentType, err := client.FetchViaProxy(context.Background(), "QmTest")
	if err != nil {
		t.Fatalf("FetchViaProxy: %v", err)
	}
	if string(data) != "direct-bytes" || contentType != "video/mp4" {
		t.Fatalf("unexpected content %q %q", data, contentType)
	}
}

// TestFetchViaProxyEmptyContentIsError verifies that both paths producing
// empty content surfaces a fetch error rather than silent success.
func TestFetchViaProxyEmptyContentIsError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	proxy := &stubProxy{content: nil, status: 200}
	client := NewClient(Config{JWT: "jwt", PublicGateway: gateway.URL, HTTPClient: gateway.Client()}, proxy)

	_, _, err := client.FetchViaProxy(context.Background(), "QmTest")
	if !IsKind(err, ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}
