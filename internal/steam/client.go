// Package steam fetches workshop item metadata from the Steam Web API.
package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"am-go/internal/am"
	"am-go/internal/model"
)

const (
	// DefaultBaseURL is the public Steam Web API host.
	DefaultBaseURL = "https://api.steampowered.com"

	detailsPath = "/ISteamRemoteStorage/GetPublishedFileDetails/v1/"

	// resultOK is the per-item result code of an item that exists.
	resultOK = 1

	defaultTimeout = 30 * time.Second
	maxBodySize    = 16 << 20
)

// Client is a workshop metadata client for GetPublishedFileDetails.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     am.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBaseURL overrides the API host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger for skipped items.
func WithLogger(logger am.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client with a pooled transport that does not share
// global state with other HTTP users in the process.
func NewClient(opts ...Option) *Client {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = defaultTimeout

	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: httpClient,
		logger:     am.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type detailsResponse struct {
	Response struct {
		Result  int           `json:"result"`
		Details []fileDetails `json:"publishedfiledetails"`
	} `json:"response"`
}

type fileDetails struct {
	PublishedFileID flexInt64 `json:"publishedfileid"`
	Result          int       `json:"result"`
	Creator         string    `json:"creator"`
	FileSize        flexInt64 `json:"file_size"`
	FileURL         string    `json:"file_url"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	TimeCreated     int64     `json:"time_created"`
	TimeUpdated     int64     `json:"time_updated"`
	Tags            []struct {
		Tag string `json:"tag"`
	} `json:"tags"`
}

// flexInt64 decodes ids and sizes the API sends either as numbers or as
// numeric strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", b, err)
	}
	*f = flexInt64(n)
	return nil
}

// FetchDetails returns metadata for ids in one request. Ids the service does
// not know (deleted or private items) are skipped.
func (c *Client) FetchDetails(ctx context.Context, ids []int64) ([]*model.WorkshopItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > am.WorkshopBatchLimit {
		return nil, fmt.Errorf("batch of %d ids exceeds limit of %d", len(ids), am.WorkshopBatchLimit)
	}

	form := url.Values{}
	form.Set("itemcount", strconv.Itoa(len(ids)))
	for i, id := range ids {
		form.Set(fmt.Sprintf("publishedfileids[%d]", i), strconv.FormatInt(id, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+detailsPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workshop request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workshop request failed with status %d: %s", resp.StatusCode, snippet(body))
	}

	var parsed detailsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing workshop response: %w", err)
	}

	items := make([]*model.WorkshopItem, 0, len(parsed.Response.Details))
	for _, d := range parsed.Response.Details {
		if d.Result != resultOK {
			c.logger.Debug("workshop item unavailable", "id", int64(d.PublishedFileID), "result", d.Result)
			continue
		}
		items = append(items, d.toItem())
	}
	return items, nil
}

func (d *fileDetails) toItem() *model.WorkshopItem {
	item := &model.WorkshopItem{
		PublishedFileID: int64(d.PublishedFileID),
		Title:           d.Title,
		TimeCreated:     time.Unix(d.TimeCreated, 0).UTC(),
		TimeUpdated:     time.Unix(d.TimeUpdated, 0).UTC(),
		FileSize:        int64(d.FileSize),
		Description:     d.Description,
		FileURL:         d.FileURL,
		CreatorID:       d.Creator,
	}
	for _, t := range d.Tags {
		if t.Tag != "" {
			item.Tags = append(item.Tags, t.Tag)
		}
	}
	return item
}

func snippet(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// Compile-time check that Client implements am.WorkshopClient interface
var _ am.WorkshopClient = (*Client)(nil)
