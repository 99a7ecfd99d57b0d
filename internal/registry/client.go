package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cruciblehq/cruxbox/internal/fault"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// Token endpoint of Docker Hub.
	DefaultAuthURL = "https://auth.docker.io/token"

	// Service name the token is issued for.
	DefaultService = "registry.docker.io"

	// Base URL of the Docker Hub registry API.
	DefaultRegistryURL = "https://registry.hub.docker.com"

	// Default User-Agent header sent with every request.
	defaultUserAgent = "cruxbox"
)

// Configures a [Client]. Zero values select the Docker Hub defaults.
type Config struct {
	AuthURL     string       // Token endpoint. Empty uses [DefaultAuthURL].
	Service     string       // Token service parameter. Empty uses [DefaultService].
	RegistryURL string       // Registry API base URL. Empty uses [DefaultRegistryURL].
	HTTPClient  *http.Client // Transport. Nil uses [http.DefaultClient].
	UserAgent   string       // User-Agent header. Empty uses "cruxbox".
}

// Talks to a single registry on behalf of one invocation.
//
// The client holds no state besides its HTTP transport; tokens are passed
// back in by the caller.
type Client struct {
	authURL     string
	service     string
	registryURL string
	http        *http.Client
	userAgent   string
}

// Creates a client for the configured registry.
func New(cfg Config) *Client {
	c := &Client{
		authURL:     cfg.AuthURL,
		service:     cfg.Service,
		registryURL: strings.TrimSuffix(cfg.RegistryURL, "/"),
		http:        cfg.HTTPClient,
		userAgent:   cfg.UserAgent,
	}
	if c.authURL == "" {
		c.authURL = DefaultAuthURL
	}
	if c.service == "" {
		c.service = DefaultService
	}
	if c.registryURL == "" {
		c.registryURL = DefaultRegistryURL
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	return c
}

// A bearer credential valid for the rest of the invocation.
//
// Token servers return the credential as "token", "access_token", or both.
type Token struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// Returns the value to send in the Authorization header.
func (t Token) Bearer() string {
	if t.Token != "" {
		return t.Token
	}
	return t.AccessToken
}

// Requests a pull token scoped to repository:library/{name}:pull.
func (c *Client) Authenticate(ctx context.Context, name string) (Token, error) {
	u, err := url.Parse(c.authURL)
	if err != nil {
		return Token{}, fault.Wrapf(ErrAuth, "parsing auth url: %w", err)
	}

	q := u.Query()
	q.Set("service", c.service)
	q.Set("scope", fmt.Sprintf("repository:%s%s:pull", officialNamespace, name))
	u.RawQuery = q.Encode()

	resp, err := c.do(ctx, u.String(), nil)
	if err != nil {
		return Token{}, fault.Wrapf(ErrAuth, "sending auth request: %w", err)
	}
	defer resp.Body.Close()

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return Token{}, fault.Wrapf(ErrAuth, "converting token from json: %w", err)
	}
	if token.Bearer() == "" {
		return Token{}, fault.Wrapf(ErrAuth, "token response for %q carries no token", name)
	}

	slog.Debug("authenticated", "image", name, "service", c.service)
	return token, nil
}

// Fetches and validates the manifest for name:tag.
//
// The Docker v2 manifest media type is requested, with the OCI image
// manifest as a second choice. Manifest lists and image indexes are
// rejected.
func (c *Client) ResolveManifest(ctx context.Context, name, tag string, token Token) (*ocispec.Manifest, error) {
	u := fmt.Sprintf("%s/v2/%s%s/manifests/%s", c.registryURL, officialNamespace, name, url.PathEscape(tag))

	resp, err := c.do(ctx, u, http.Header{
		"Authorization": {"Bearer " + token.Bearer()},
		"Accept":        {acceptManifest},
	})
	if err != nil {
		return nil, fault.Wrapf(ErrManifest, "sending manifest request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrapf(ErrManifest, "reading manifest body: %w", err)
	}

	manifest, err := decodeManifest(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fault.Wrapf(ErrManifest, "converting manifest from json: %w", err)
	}

	slog.Debug("manifest resolved",
		"image", name,
		"tag", tag,
		"mediaType", manifest.MediaType,
		"layers", len(manifest.Layers),
	)
	return manifest, nil
}

// Opens the blob with the given digest as a stream.
//
// The caller must close the returned reader. Read failures on the stream
// are classified as [ErrBlobFetch].
func (c *Client) FetchBlob(ctx context.Context, name string, dgst digest.Digest, token Token) (io.ReadCloser, error) {
	if !wellFormed(dgst) {
		return nil, fault.Wrapf(ErrBlobFetch, "malformed digest %q", dgst)
	}

	u := fmt.Sprintf("%s/v2/%s%s/blobs/%s", c.registryURL, officialNamespace, name, dgst)

	resp, err := c.do(ctx, u, http.Header{
		"Authorization": {"Bearer " + token.Bearer()},
	})
	if err != nil {
		return nil, fault.Wrapf(ErrBlobFetch, "sending layer blob request: %w", err)
	}

	slog.Debug("blob opened", "image", name, "digest", dgst, "size", resp.ContentLength)
	return &blobReader{body: resp.Body, digest: dgst}, nil
}

// Sends a GET request and checks the response status.
//
// Redirects (blob downloads are commonly redirected to a CDN) are followed
// by the HTTP client. Non-2xx responses are drained, closed, and returned as
// classified errors.
func (c *Client) do(ctx context.Context, u string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if !successStatus(resp.StatusCode) {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	return resp, nil
}

// Streams a blob body, tagging read failures.
type blobReader struct {
	body   io.ReadCloser
	digest digest.Digest
}

func (b *blobReader) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && err != io.EOF {
		return n, fault.Wrapf(ErrBlobFetch, "getting layer bytes for %s: %w", b.digest, err)
	}
	return n, err
}

func (b *blobReader) Close() error {
	return b.body.Close()
}
