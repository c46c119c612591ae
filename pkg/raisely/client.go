// Package raisely 封装 Raisely 平台 API: 批量模式拉取档案列表 + webhook 载荷结构。
package raisely

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"raisely_sync_v1/pkg/utils"
)

const (
	defaultBaseURL  = "https://api.raisely.com/v3"
	defaultPageSize = 100
	defaultTimeout  = 20 * time.Second
)

// ProfileFilter 批量拉取过滤条件 (部分服务端过滤，其余客户端兜底过滤)
type ProfileFilter struct {
	Type     string // INDIVIDUAL / GROUP，空表示不过滤
	Status   string // ACTIVE / DRAFT，空表示不过滤
	Campaign string // 战役名子串匹配 (客户端过滤)
	Limit    int    // 最多返回条数，0 表示不限制
}

// Client Raisely 档案读取接口
type Client interface {
	// ListProfiles 分页拉全量档案并按过滤条件筛选
	ListProfiles(ctx context.Context, filter ProfileFilter) ([]*Profile, error)
}

type clientOption struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	debug   bool
}

// ClientOption 客户端配置函数
type ClientOption func(*clientOption)

// WithAPIKey 设置 API Key (必填)
func WithAPIKey(key string) ClientOption {
	return func(o *clientOption) { o.apiKey = key }
}

// WithBaseURL 覆盖 API 地址 (测试用)
func WithBaseURL(u string) ClientOption {
	return func(o *clientOption) { o.baseURL = u }
}

// WithTimeout 覆盖默认超时
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOption) { o.timeout = d }
}

// WithDebug 打印请求/响应 (开发环境)
func WithDebug() ClientOption {
	return func(o *clientOption) { o.debug = true }
}

type raiselyClient struct {
	opts clientOption
	http *resty.Client
}

// New 创建 Raisely 客户端
func New(options ...ClientOption) (Client, error) {
	opts := clientOption{
		baseURL: defaultBaseURL,
		timeout: defaultTimeout,
	}
	for _, apply := range options {
		apply(&opts)
	}

	if opts.apiKey == "" {
		return nil, errors.New("raisely: 缺少 API Key")
	}

	http := utils.NewAPIClient(opts.timeout, opts.debug).
		SetBaseURL(opts.baseURL).
		SetHeader("Authorization", "Bearer "+opts.apiKey)

	return &raiselyClient{opts: opts, http: http}, nil
}

// ListProfiles 分页拉取档案
func (c *raiselyClient) ListProfiles(ctx context.Context, filter ProfileFilter) ([]*Profile, error) {
	var all []*Profile
	offset := 0

	for {
		params := map[string]string{
			"limit":  strconv.Itoa(defaultPageSize),
			"offset": strconv.Itoa(offset),
		}
		if filter.Type != "" {
			params["type"] = filter.Type
		}
		if filter.Status != "" {
			params["status"] = filter.Status
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&profilesResp{}).
			Get("/profiles")
		if err != nil {
			return nil, fmt.Errorf("raisely: 拉取档案失败: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("raisely: 档案接口返回 %d: %s", resp.StatusCode(), resp.String())
		}

		page := resp.Result().(*profilesResp)
		for i := range page.Data {
			p := page.Data[i]
			if !matchFilter(&p, filter) {
				continue
			}
			all = append(all, &p)
			if filter.Limit > 0 && len(all) >= filter.Limit {
				return all, nil
			}
		}

		if len(page.Data) < defaultPageSize {
			return all, nil
		}
		offset += defaultPageSize
	}
}

// matchFilter 客户端兜底过滤 (战役名子串匹配服务端不支持)
func matchFilter(p *Profile, filter ProfileFilter) bool {
	if filter.Type != "" && p.Type != filter.Type {
		return false
	}
	if filter.Status != "" && p.Status != filter.Status {
		return false
	}
	if filter.Campaign != "" {
		name := campaignLabel(p)
		if !strings.Contains(strings.ToLower(name), strings.ToLower(filter.Campaign)) {
			return false
		}
	}
	return true
}

// campaignLabel 取档案所属战役的显示名 (仅用于过滤，完整推导在同步层)
func campaignLabel(p *Profile) string {
	for cur, depth := p.Parent, 0; cur != nil && depth < 10; cur, depth = cur.Parent, depth+1 {
		if cur.IsCampaign() {
			return cur.Name
		}
	}
	if idx := strings.Index(p.Path, "/"); idx > 0 {
		return p.Path[:idx]
	}
	return p.Path
}
