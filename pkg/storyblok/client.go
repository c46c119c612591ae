// Package storyblok 封装 Storyblok 管理 API 中本引擎需要的最小操作集:
// 按 slug 精确查询、有界前缀列表、创建、更新、发布、取消发布、删除。
package storyblok

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"

	"raisely_sync_v1/pkg/utils"
)

const (
	defaultBaseURL = "https://mapi.storyblok.com/v1"
	defaultPerPage = 100
	defaultTimeout = 20 * time.Second
)

// Client Storyblok 内容树操作接口
type Client interface {
	// GetBySlug 按 full_slug 精确查询 (索引延迟时可能漏查，调用方需有兜底策略)
	GetBySlug(ctx context.Context, fullSlug string) (*Story, error)

	// GetByID 按数值 ID 拉取最新节点 (写前重读用)
	GetByID(ctx context.Context, id int64) (*Story, error)

	// List 有界前缀列表查询，可限定仅目录
	List(ctx context.Context, opts ListOptions) ([]Story, error)

	// Create 创建节点；重复 slug 返回 Conflict 类错误
	Create(ctx context.Context, input *StoryInput) (*Story, error)

	// Update 整体替换节点内容 (部分字段合并是调用方的责任)
	Update(ctx context.Context, id int64, input *StoryInput) (*Story, error)

	// Publish 发布节点
	Publish(ctx context.Context, id int64) error

	// Unpublish 取消发布节点
	Unpublish(ctx context.Context, id int64) error

	// Delete 删除节点 (同步引擎不使用，运维工具用)
	Delete(ctx context.Context, id int64) error
}

// ==================== 客户端配置 ====================

type clientOption struct {
	token   string
	spaceID string
	baseURL string
	timeout time.Duration
	doRetry bool
	debug   bool
}

// ClientOption 客户端配置函数
type ClientOption func(*clientOption)

// WithToken 设置管理 API token (必填)
func WithToken(token string) ClientOption {
	return func(o *clientOption) { o.token = token }
}

// WithSpaceID 设置空间 ID (必填)
func WithSpaceID(spaceID string) ClientOption {
	return func(o *clientOption) { o.spaceID = spaceID }
}

// WithBaseURL 覆盖 API 地址 (测试用)
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOption) { o.baseURL = baseURL }
}

// WithTimeout 覆盖默认超时
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOption) { o.timeout = d }
}

// WithRetry 对瞬时错误 (429/5xx/网络) 启用指数退避重试
func WithRetry() ClientOption {
	return func(o *clientOption) { o.doRetry = true }
}

// WithDebug 打印请求/响应 (开发环境)
func WithDebug() ClientOption {
	return func(o *clientOption) { o.debug = true }
}

type storyblokClient struct {
	opts clientOption
	http *resty.Client
}

// New 创建 Storyblok 客户端
func New(options ...ClientOption) (Client, error) {
	opts := clientOption{
		baseURL: defaultBaseURL,
		timeout: defaultTimeout,
	}
	for _, apply := range options {
		apply(&opts)
	}

	if opts.token == "" {
		return nil, errors.New("storyblok: 缺少管理 API token")
	}
	if opts.spaceID == "" {
		return nil, errors.New("storyblok: 缺少空间 ID")
	}

	http := utils.NewAPIClient(opts.timeout, opts.debug).
		SetBaseURL(fmt.Sprintf("%s/spaces/%s", opts.baseURL, opts.spaceID)).
		SetHeader("Authorization", opts.token).
		SetHeader("Content-Type", "application/json")

	return &storyblokClient{opts: opts, http: http}, nil
}

// ==================== 查询 ====================

func (c *storyblokClient) GetBySlug(ctx context.Context, fullSlug string) (*Story, error) {
	resp, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("with_slug", fullSlug).
			SetResult(&storiesResp{}).
			Get("/stories")
	})
	if err != nil {
		return nil, err
	}

	result := resp.Result().(*storiesResp)
	for i := range result.Stories {
		// with_slug 可能命中前缀相近的节点，客户端再精确比对一次
		if result.Stories[i].FullSlug == fullSlug {
			return &result.Stories[i], nil
		}
	}
	return nil, &APIError{Kind: KindNotFound, Status: 404, Detail: fmt.Sprintf("story %q not found", fullSlug)}
}

func (c *storyblokClient) GetByID(ctx context.Context, id int64) (*Story, error) {
	resp, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&storyResp{}).
			Get("/stories/" + strconv.FormatInt(id, 10))
	})
	if err != nil {
		return nil, err
	}

	result := resp.Result().(*storyResp)
	if result.Story == nil {
		return nil, &APIError{Kind: KindNotFound, Status: 404, Detail: fmt.Sprintf("story %d not found", id)}
	}
	return result.Story, nil
}

func (c *storyblokClient) List(ctx context.Context, opts ListOptions) ([]Story, error) {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}

	params := map[string]string{
		"per_page": strconv.Itoa(perPage),
	}
	if opts.StartsWith != "" {
		params["starts_with"] = opts.StartsWith
	}
	if opts.FolderOnly {
		params["folder_only"] = "1"
	}
	if opts.Page > 0 {
		params["page"] = strconv.Itoa(opts.Page)
	}

	resp, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&storiesResp{}).
			Get("/stories")
	})
	if err != nil {
		return nil, err
	}

	return resp.Result().(*storiesResp).Stories, nil
}

// ==================== 写操作 ====================

func (c *storyblokClient) Create(ctx context.Context, input *StoryInput) (*Story, error) {
	resp, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(&storyReq{Story: input}).
			SetResult(&storyResp{}).
			Post("/stories")
	})
	if err != nil {
		return nil, err
	}

	result := resp.Result().(*storyResp)
	if result.Story == nil {
		return nil, &APIError{Kind: KindFatal, Status: resp.StatusCode(), Detail: "create 响应缺少 story 字段"}
	}
	return result.Story, nil
}

func (c *storyblokClient) Update(ctx context.Context, id int64, input *StoryInput) (*Story, error) {
	resp, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(&storyReq{Story: input}).
			SetResult(&storyResp{}).
			Put("/stories/" + strconv.FormatInt(id, 10))
	})
	if err != nil {
		return nil, err
	}

	result := resp.Result().(*storyResp)
	if result.Story == nil {
		return nil, &APIError{Kind: KindFatal, Status: resp.StatusCode(), Detail: "update 响应缺少 story 字段"}
	}
	return result.Story, nil
}

func (c *storyblokClient) Publish(ctx context.Context, id int64) error {
	_, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			Get("/stories/" + strconv.FormatInt(id, 10) + "/publish")
	})
	return err
}

func (c *storyblokClient) Unpublish(ctx context.Context, id int64) error {
	_, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			Get("/stories/" + strconv.FormatInt(id, 10) + "/unpublish")
	})
	return err
}

func (c *storyblokClient) Delete(ctx context.Context, id int64) error {
	_, err := c.execute(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			Delete("/stories/" + strconv.FormatInt(id, 10))
	})
	return err
}

// ==================== 请求执行与重试 ====================

// execute 统一的请求出口: 错误分类 + 可选的瞬时错误退避重试
func (c *storyblokClient) execute(ctx context.Context, call func() (*resty.Response, error)) (*resty.Response, error) {
	operation := func() (*resty.Response, error) {
		resp, err := call()
		if err != nil {
			// 网络层错误一律按瞬时处理
			return nil, &APIError{Kind: KindTransient, Detail: err.Error()}
		}
		if resp.IsError() {
			apiErr := classifyStatus(resp.StatusCode(), resp.String())
			if c.opts.doRetry && apiErr.Kind == KindTransient {
				return nil, apiErr
			}
			return nil, backoff.Permanent(apiErr)
		}
		return resp, nil
	}

	if !c.opts.doRetry {
		resp, err := operation()
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return nil, apiErr
			}
			return nil, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
	)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, err
	}
	return resp, nil
}
