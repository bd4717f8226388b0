// Package web provides the web_fetch tool: fetch a URL and return its
// readable text. Requests to private and reserved addresses are blocked
// so the model cannot probe the local network.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/tinker/internal/agent"
	"github.com/haasonsaas/tinker/pkg/models"
)

const (
	defaultMaxChars  = 20000
	maxBodyBytes     = 2 << 20 // 2MiB read cap before extraction
	requestTimeout   = 15 * time.Second
	fetchUserAgent   = "Mozilla/5.0 (compatible; TinkerBot/1.0)"
	maxRedirectCount = 5
)

// FetchTool fetches URLs over plain GET.
type FetchTool struct {
	client       *http.Client
	maxChars     int
	allowPrivate bool // tests only
}

// Option customizes FetchTool construction.
type Option func(*FetchTool)

// WithHTTPClient overrides the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *FetchTool) {
		if client != nil {
			t.client = client
		}
	}
}

// withPrivateHosts disables the private-address guard for tests that
// serve from localhost.
func withPrivateHosts() Option {
	return func(t *FetchTool) { t.allowPrivate = true }
}

func NewFetchTool(opts ...Option) *FetchTool {
	t := &FetchTool{
		client: &http.Client{
			Timeout: requestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirectCount {
					return fmt.Errorf("stopped after %d redirects", maxRedirectCount)
				}
				return nil
			},
		},
		maxChars: defaultMaxChars,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds web_fetch to the registry. Fetches are read-only from
// the workspace's point of view but carry medium risk: a URL can leak
// conversation context to an arbitrary host.
func Register(reg *agent.Registry, opts ...Option) error {
	return reg.Register(NewFetchTool(opts...), agent.Descriptor{
		Risk:     models.RiskMedium,
		ReadOnly: true,
	})
}

func (t *FetchTool) Name() string { return "web_fetch" }

func (t *FetchTool) Description() string {
	return "Fetch a URL and return its readable text content. HTML is stripped to plain text."
}

func (t *FetchTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch, http or https only.",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Maximum characters to return (default: 20000).",
				"minimum":     1,
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal web_fetch schema: %v", err))
	}
	return payload
}

func (t *FetchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		URL      string `json:"url"`
		MaxChars int    `json:"max_chars"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return errorResult("invalid parameters: %v", err), nil
	}

	if !t.allowPrivate {
		if err := guardURL(input.URL); err != nil {
			return errorResult("%v", err), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return errorResult("build request: %v", err), nil
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html, text/plain, application/json;q=0.9, */*;q=0.5")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return errorResult("fetch %s: %v", input.URL, err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorResult("fetch %s: HTTP %d", input.URL, resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errorResult("read response: %v", err), nil
	}

	content := string(body)
	if isHTML(resp.Header.Get("Content-Type"), content) {
		content = stripHTML(content)
	}
	content = strings.TrimSpace(content)

	limit := input.MaxChars
	if limit <= 0 {
		limit = t.maxChars
	}
	if len(content) > limit {
		content = content[:limit] + "\n... content truncated"
	}
	if content == "" {
		content = "(empty response)"
	}
	return &agent.ToolResult{Content: content}, nil
}

// guardURL rejects non-http schemes and hosts that resolve to private
// or reserved addresses.
func guardURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("url has no host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("localhost urls are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil && isReservedIP(ip) {
		return fmt.Errorf("url targets a private or reserved address")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		// unresolvable hosts fail at fetch time with a clearer error
		return nil
	}
	for _, ip := range ips {
		if isReservedIP(ip) {
			return fmt.Errorf("url resolves to a private or reserved address")
		}
	}
	return nil
}

func isReservedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}

func isHTML(contentType, body string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	head := strings.ToLower(body)
	if len(head) > 256 {
		head = head[:256]
	}
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// stripHTML reduces an HTML document to plain text. Good enough for
// documentation pages; a full readability pass is not worth the deps.
func stripHTML(doc string) string {
	doc = scriptRe.ReplaceAllString(doc, " ")
	doc = tagRe.ReplaceAllString(doc, " ")
	doc = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	).Replace(doc)

	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	out := strings.Join(lines, "\n")
	return blankRe.ReplaceAllString(out, "\n\n")
}

func errorResult(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}
