package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/tools"
)

const defaultMaxBodySize = 5 * 1024 * 1024

// Fetch retrieves web content and converts HTML to plain text or
// markdown for the model.
type Fetch struct {
	client      *http.Client
	maxBodySize int64
	approval    schema.ApprovalMode
}

var _ tools.Tool = (*Fetch)(nil)

// NewFetch creates a fetch tool. maxBodySize <= 0 uses the default 5MB.
func NewFetch(maxBodySize int64) *Fetch {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	return &Fetch{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBodySize: maxBodySize,
		approval:    schema.ApprovalNever,
	}
}

// WithApproval sets the approval mode.
func (t *Fetch) WithApproval(mode schema.ApprovalMode) *Fetch {
	t.approval = mode
	return t
}

func (t *Fetch) Name() string        { return "fetch" }
func (t *Fetch) Description() string { return "Fetch and process content from URLs" }

func (t *Fetch) Schema() map[string]any {
	return tools.ObjectSchema(
		"Fetch a URL and return its content",
		map[string]any{
			"url":    tools.StringProperty("The URL to fetch content from"),
			"format": tools.StringProperty("Output format", "text", "markdown", "html"),
		},
		"url",
	)
}

func (t *Fetch) ApprovalMode() schema.ApprovalMode { return t.approval }

func (t *Fetch) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		URL    string `json:"url"`
		Format string `json:"format"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
		return "", fmt.Errorf("url must start with http:// or https://")
	}
	format := params.Format
	if format == "" {
		format = "markdown"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "loopkit-fetch/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	content := string(body)
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("response is not valid UTF-8")
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		switch format {
		case "text":
			content, err = htmlToText(content)
		case "markdown":
			content, err = htmlToMarkdown(content)
		case "html":
			// raw body passes through
		default:
			return "", fmt.Errorf("format must be one of: text, markdown, html")
		}
		if err != nil {
			return "", err
		}
	}
	return content, nil
}

func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return strings.Join(strings.Fields(doc.Find("body").Text()), " "), nil
}

func htmlToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return markdown, nil
}
