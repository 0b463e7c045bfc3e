package remote

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"docsync-go/internal/docsync"
)

// CredentialsFunc returns the credentials used for each request. It is
// called per request so a credential change takes effect without rebuilding
// the connection.
type CredentialsFunc func() (docsync.Credentials, error)

// WebDAVConfig configures a WebDAVConnection.
type WebDAVConfig struct {
	// BaseURL is the account's base URL. Remote paths are resolved below it.
	BaseURL string
	// Timeout bounds a single request. Zero means 60s.
	Timeout time.Duration
	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

// WebDAVConnection implements docsync.Connection against a WebDAV server
// using basic authentication.
type WebDAVConnection struct {
	base   *url.URL
	client *http.Client
	creds  CredentialsFunc
}

// NewWebDAVConnection creates a connection for cfg. creds may be nil for
// servers without authentication.
func NewWebDAVConnection(cfg WebDAVConfig, creds CredentialsFunc) (*WebDAVConnection, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", cfg.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &WebDAVConnection{base: base, client: client, creds: creds}, nil
}

func (c *WebDAVConnection) url(p string, dir bool) string {
	u := *c.base
	u.Path = c.base.Path + "/" + clean(p)
	if dir && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawPath = ""
	return u.String()
}

func (c *WebDAVConnection) do(ctx context.Context, method, p string, dir bool, body io.Reader, size int64, hdr map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(p, dir), body)
	if err != nil {
		return nil, err
	}
	if body != nil && size >= 0 {
		req.ContentLength = size
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	if c.creds != nil {
		cr, err := c.creds()
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, p, err)
		}
		req.SetBasicAuth(cr.Username, cr.Secret)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, p, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func statusError(op, p string, resp *http.Response) error {
	drain(resp)
	return &docsync.StatusError{Op: op, Path: p, StatusCode: resp.StatusCode}
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:"><D:prop><D:resourcetype/><D:getetag/><D:getcontentlength/><D:getlastmodified/></D:prop></D:propfind>`

type multistatus struct {
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   davProp `xml:"DAV: prop"`
	Status string  `xml:"DAV: status"`
}

type davProp struct {
	ETag          string `xml:"DAV: getetag"`
	ContentLength string `xml:"DAV: getcontentlength"`
	LastModified  string `xml:"DAV: getlastmodified"`
	ResourceType  struct {
		Collection *struct{} `xml:"DAV: collection"`
	} `xml:"DAV: resourcetype"`
}

// propfind returns the entries for p (depth 0) or p and its children
// (depth 1), keyed by path relative to the base URL.
func (c *WebDAVConnection) propfind(ctx context.Context, op, p string, depth int) (map[string]docsync.RemoteEntry, error) {
	resp, err := c.do(ctx, "PROPFIND", p, depth > 0, strings.NewReader(propfindBody), int64(len(propfindBody)), map[string]string{
		"Depth":        strconv.Itoa(depth),
		"Content-Type": `application/xml; charset="utf-8"`,
	})
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, statusError(op, p, resp)
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("%s %s: decoding multistatus: %w", op, p, err)
	}
	out := make(map[string]docsync.RemoteEntry, len(ms.Responses))
	for _, r := range ms.Responses {
		rel, err := c.relative(r.Href)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", op, p, err)
		}
		for _, ps := range r.Propstats {
			if !strings.Contains(ps.Status, " 200") {
				continue
			}
			out[rel] = entryFromProp(rel, ps.Prop)
		}
	}
	return out, nil
}

// relative turns an href from a multistatus response into a path relative
// to the base URL.
func (c *WebDAVConnection) relative(href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("bad href %q: %w", href, err)
	}
	p := u.Path
	if !strings.HasPrefix(p+"/", c.base.Path+"/") {
		return "", fmt.Errorf("href %q is outside %s", href, c.base.Path)
	}
	return clean(strings.TrimPrefix(p, c.base.Path)), nil
}

func entryFromProp(rel string, p davProp) docsync.RemoteEntry {
	e := docsync.RemoteEntry{
		Name:         path.Base("/" + rel),
		VersionToken: strings.Trim(strings.TrimPrefix(p.ETag, "W/"), `"`),
		IsDirectory:  p.ResourceType.Collection != nil,
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(p.ContentLength), 10, 64); err == nil {
		e.Size = n
	}
	if t, err := http.ParseTime(strings.TrimSpace(p.LastModified)); err == nil {
		e.ModifiedAt = t
	}
	return e
}

// ListDirectory issues a depth 1 PROPFIND.
func (c *WebDAVConnection) ListDirectory(ctx context.Context, p string) ([]docsync.RemoteEntry, error) {
	entries, err := c.propfind(ctx, "list", p, 1)
	if err != nil {
		return nil, err
	}
	self := clean(p)
	if e, ok := entries[self]; ok && !e.IsDirectory {
		return nil, &docsync.StatusError{Op: "list", Path: p, StatusCode: http.StatusConflict}
	}
	out := make([]docsync.RemoteEntry, 0, len(entries))
	for rel, e := range entries {
		if rel == self {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Stat issues a depth 0 PROPFIND.
func (c *WebDAVConnection) Stat(ctx context.Context, p string) (*docsync.RemoteEntry, error) {
	entries, err := c.propfind(ctx, "stat", p, 0)
	if err != nil {
		return nil, err
	}
	e, ok := entries[clean(p)]
	if !ok {
		return nil, &docsync.StatusError{Op: "stat", Path: p, StatusCode: http.StatusNotFound}
	}
	return &e, nil
}

// GetContents issues a GET. The caller closes the body.
func (c *WebDAVConnection) GetContents(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, p, false, nil, 0, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("get", p, resp)
	}
	return resp.Body, nil
}

// PutContents issues a PUT and returns the new ETag. Servers that do not
// send one are asked with a PROPFIND.
func (c *WebDAVConnection) PutContents(ctx context.Context, p string, r io.Reader, size int64) (string, error) {
	resp, err := c.do(ctx, http.MethodPut, p, false, r, size, map[string]string{
		"Content-Type": "application/octet-stream",
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return "", statusError("put", p, resp)
	}
	etag := strings.Trim(strings.TrimPrefix(resp.Header.Get("ETag"), "W/"), `"`)
	drain(resp)
	if etag != "" {
		return etag, nil
	}
	e, err := c.Stat(ctx, p)
	if err != nil {
		return "", err
	}
	return e.VersionToken, nil
}

// Move issues a MOVE with Overwrite: T.
func (c *WebDAVConnection) Move(ctx context.Context, from, to string) error {
	resp, err := c.do(ctx, "MOVE", from, false, nil, 0, map[string]string{
		"Destination": c.url(to, false),
		"Overwrite":   "T",
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("move", from, resp)
	}
	drain(resp)
	return nil
}

// Delete issues a DELETE.
func (c *WebDAVConnection) Delete(ctx context.Context, p string) error {
	resp, err := c.do(ctx, http.MethodDelete, p, false, nil, 0, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError("delete", p, resp)
	}
	drain(resp)
	return nil
}

// MakeDirectory issues a MKCOL. A 405 for an existing collection counts as
// success.
func (c *WebDAVConnection) MakeDirectory(ctx context.Context, p string) error {
	resp, err := c.do(ctx, "MKCOL", p, true, nil, 0, nil)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		drain(resp)
		return nil
	case http.StatusMethodNotAllowed:
		drain(resp)
		e, err := c.Stat(ctx, p)
		if err == nil && e.IsDirectory {
			return nil
		}
		return &docsync.StatusError{Op: "mkdir", Path: p, StatusCode: http.StatusMethodNotAllowed}
	default:
		return statusError("mkdir", p, resp)
	}
}

var _ docsync.Connection = (*WebDAVConnection)(nil)
