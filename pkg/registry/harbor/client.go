package harbor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/peterhellberg/link"
	"gopkg.in/resty.v1"

	zerr "zotregistry.dev/tagprune/errors"
	"zotregistry.dev/tagprune/pkg/common"
	zlog "zotregistry.dev/tagprune/pkg/log"
	"zotregistry.dev/tagprune/pkg/registry"
)

const (
	apiPrefix = "/api/v2.0"

	DefaultPageSize   = 100
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
	DefaultTimeout    = 30 * time.Second
)

type Config struct {
	URL       string
	Project   string
	Username  string
	Password  string
	TLSVerify bool
	PageSize  int

	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Client talks to the Harbor v2 API of a single project. Repository names are the full Harbor names,
// project included, as "project/repo".
type Client struct {
	config  Config
	baseURL *url.URL
	client  *resty.Client
	log     zlog.Logger
}

// harbor API types, only the fields used here.
type repository struct {
	Name string `json:"name"`
}

type artifact struct {
	Digest string `json:"digest"`
	Tags   []tag  `json:"tags"`
}

type tag struct {
	Name     string    `json:"name"`
	PushTime time.Time `json:"push_time"`
	PullTime time.Time `json:"pull_time"`
}

func NewClient(config Config, log zlog.Logger) (*Client, error) {
	baseURL, err := url.Parse(strings.TrimSuffix(config.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid harbor url %q: %w", zerr.ErrBadConfig, config.URL, err)
	}

	if (baseURL.Scheme != "http" && baseURL.Scheme != "https") || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: harbor url %q must be an absolute http(s) url", zerr.ErrBadConfig, config.URL)
	}

	if config.Project == "" {
		return nil, fmt.Errorf("%w: harbor project is required", zerr.ErrBadConfig)
	}

	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: !config.TLSVerify, //nolint: gosec
		MinVersion:         tls.VersionTLS12,
	}

	client := resty.New().
		SetHostURL(baseURL.String()+apiPrefix).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json").
		SetTLSClientConfig(tlsConfig)

	if config.Username != "" {
		client.SetBasicAuth(config.Username, config.Password)
	}

	return &Client{
		config:  config,
		baseURL: baseURL,
		client:  client,
		log:     log,
	}, nil
}

func (c *Client) ListRepositories(ctx context.Context) ([]string, error) {
	repos := make([]string, 0)

	path := fmt.Sprintf("/projects/%s/repositories", url.PathEscape(c.config.Project))

	err := c.getPaged(ctx, path, nil, func(body []byte) error {
		var page []repository

		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &page); err != nil {
			return err
		}

		for _, repo := range page {
			repos = append(repos, repo.Name)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("module", "harbor").Str("project", c.config.Project).Int("repositories", len(repos)).
		Msg("listed repositories")

	return repos, nil
}

func (c *Client) ListTags(ctx context.Context, repo string) ([]registry.TagRecord, error) {
	records := make([]registry.TagRecord, 0)

	query := map[string]string{"with_tag": "true"}

	err := c.getPaged(ctx, c.repositoryPath(repo)+"/artifacts", query, func(body []byte) error {
		var page []artifact

		if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &page); err != nil {
			return err
		}

		for _, artifact := range page {
			for _, tag := range artifact.Tags {
				record := registry.TagRecord{Repository: repo, Tag: tag.Name, PushTime: tag.PushTime}

				if !tag.PullTime.IsZero() {
					pullTime := tag.PullTime
					record.PullTime = &pullTime
				}

				records = append(records, record)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("module", "harbor").Str("repository", repo).Int("tags", len(records)).Msg("listed tags")

	return records, nil
}

// DeleteTag removes the tag only, other tags of the same artifact are kept.
func (c *Client) DeleteTag(ctx context.Context, repo, tagName string) error {
	tagPath := url.PathEscape(tagName)
	path := fmt.Sprintf("%s/artifacts/%s/tags/%s", c.repositoryPath(repo), tagPath, tagPath)

	return common.RetryWithContext(ctx, func(attempt int, retryIn time.Duration) error {
		resp, err := c.client.R().SetContext(ctx).Delete(path)
		if err != nil {
			c.logRetry(attempt, retryIn, path, err)

			return fmt.Errorf("%w: %s:%s: %w", zerr.ErrRegistryDelete, repo, tagName, err)
		}

		switch resp.StatusCode() {
		case http.StatusOK, http.StatusAccepted:
			return nil
		case http.StatusNotFound:
			c.log.Debug().Str("module", "harbor").Str("repository", repo).Str("tag", tagName).
				Msg("tag already deleted")

			return nil
		}

		err = statusError(zerr.ErrRegistryDelete, http.StatusOK, resp)
		if resp.StatusCode() < http.StatusInternalServerError {
			return common.Permanent(err)
		}

		c.logRetry(attempt, retryIn, path, err)

		return err
	}, c.config.MaxRetries, c.config.RetryDelay)
}

// repositoryPath escapes the name twice, harbor expects "/" inside repository names as %252F.
func (c *Client) repositoryPath(repo string) string {
	name := strings.TrimPrefix(repo, c.config.Project+"/")

	return fmt.Sprintf("/projects/%s/repositories/%s", url.PathEscape(c.config.Project),
		url.PathEscape(url.PathEscape(name)))
}

// getPaged calls handle with the body of every page, following the rel="next" Link header.
func (c *Client) getPaged(ctx context.Context, path string, query map[string]string,
	handle func(body []byte) error,
) error {
	params := map[string]string{"page_size": strconv.Itoa(c.config.PageSize)}
	for key, value := range query {
		params[key] = value
	}

	next := path
	visited := map[string]bool{}

	for next != "" && !visited[next] {
		visited[next] = true

		resp, err := c.get(ctx, next, params)
		if err != nil {
			return err
		}

		if err := handle(resp.Body()); err != nil {
			return fmt.Errorf("%w: %s: failed to decode response: %w", zerr.ErrRegistryLookup, next, err)
		}

		next = c.nextPage(resp)
		// next links carry their own query
		params = nil
	}

	return nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string) (*resty.Response, error) {
	var resp *resty.Response

	err := common.RetryWithContext(ctx, func(attempt int, retryIn time.Duration) error {
		var err error

		resp, err = c.client.R().SetContext(ctx).SetQueryParams(params).Get(path)
		if err != nil {
			c.logRetry(attempt, retryIn, path, err)

			return fmt.Errorf("%w: %s: %w", zerr.ErrRegistryLookup, path, err)
		}

		if resp.StatusCode() == http.StatusOK {
			return nil
		}

		err = statusError(zerr.ErrRegistryLookup, http.StatusOK, resp)
		if resp.StatusCode() < http.StatusInternalServerError {
			return common.Permanent(err)
		}

		c.logRetry(attempt, retryIn, path, err)

		return err
	}, c.config.MaxRetries, c.config.RetryDelay)

	return resp, err
}

func (c *Client) nextPage(resp *resty.Response) string {
	next, ok := link.ParseHeader(resp.Header())["next"]
	if !ok || next.URI == "" {
		return ""
	}

	ref, err := url.Parse(next.URI)
	if err != nil {
		c.log.Warn().Err(err).Str("module", "harbor").Str("link", next.URI).Msg("ignoring invalid next page link")

		return ""
	}

	return c.baseURL.ResolveReference(ref).String()
}

func (c *Client) logRetry(attempt int, retryIn time.Duration, path string, err error) {
	if attempt >= c.config.MaxRetries {
		return
	}

	c.log.Warn().Err(err).Str("module", "harbor").Str("path", path).Int("attempt", attempt).
		Str("retry in", retryIn.String()).Msg("request failed, retrying")
}

func statusError(sentinel error, expected int, resp *resty.Response) error {
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return fmt.Errorf("%w: %w: %s, got: %d", sentinel, zerr.ErrUnauthorized, resp.Request.URL,
			resp.StatusCode())
	}

	return fmt.Errorf("%w: %s, expected: %d, got: %d, body: '%s'", sentinel, resp.Request.URL, expected,
		resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
}
