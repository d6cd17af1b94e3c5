// Package registry 访问组件包注册中心（GET <base>/packages），并在内存中按 TTL 缓存包列表。
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MaxHostPackages 是每个主机在诊断输出中列出的包名上限。
const MaxHostPackages = 25

// MoreMarker 追加在超出上限的主机包名列表末尾。
const MoreMarker = "and more…"

// ErrPackageNotFound 表示注册中心中不存在该包。
var ErrPackageNotFound = errors.New("package not found in registry")

// Package 是注册中心列表中的一项。
type Package struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Host 汇总托管在同一主机上的包。
type Host struct {
	Host     string   `json:"host"`
	Packages []string `json:"packages"`
}

// Client 缓存注册中心返回的包列表；并发安全。
type Client struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	packages  []Package
	fetchedAt time.Time
}

// NewClient 构造客户端；httpClient 为 nil 时使用 http.DefaultClient。
func NewClient(baseURL string, httpClient *http.Client, ttl time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		ttl:     ttl,
		now:     time.Now,
	}
}

// BaseURL 返回注册中心根地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PackageList 返回包列表，缓存未过期时不发起请求；过期后拉取失败则退回旧列表。
func (c *Client) PackageList(ctx context.Context) ([]Package, error) {
	c.mu.Lock()
	cached := c.packages
	fresh := cached != nil && (c.ttl <= 0 || c.now().Sub(c.fetchedAt) < c.ttl)
	c.mu.Unlock()
	if fresh {
		return cached, nil
	}
	list, err := c.Refresh(ctx)
	if err != nil && cached != nil {
		return cached, nil
	}
	return list, err
}

// Refresh 无条件重新拉取包列表并更新缓存；失败时保留旧缓存。
func (c *Client) Refresh(ctx context.Context) ([]Package, error) {
	list, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.packages = list
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return list, nil
}

// PackageListByURL 以仓库 URL 为 key 索引包列表。
func (c *Client) PackageListByURL(ctx context.Context) (map[string]Package, error) {
	list, err := c.PackageList(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Package, len(list))
	for _, pkg := range list {
		out[pkg.URL] = pkg
	}
	return out, nil
}

// Lookup 按包名查找。
func (c *Client) Lookup(ctx context.Context, name string) (Package, error) {
	list, err := c.PackageList(ctx)
	if err != nil {
		return Package{}, err
	}
	for _, pkg := range list {
		if pkg.Name == name {
			return pkg, nil
		}
	}
	return Package{}, fmt.Errorf("%s: %w", name, ErrPackageNotFound)
}

// Hosts 按主机（含端口）分组包名，按首次出现顺序返回；无法解析主机的条目被跳过。
func (c *Client) Hosts(ctx context.Context) ([]Host, error) {
	list, err := c.PackageList(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByHost(list), nil
}

// GroupByHost 每个主机最多列出 MaxHostPackages 个包名，超出时追加一次 MoreMarker。
func GroupByHost(list []Package) []Host {
	index := make(map[string]int)
	var hosts []Host
	for _, pkg := range list {
		host := hostOf(pkg.URL)
		if host == "" {
			continue
		}
		i, ok := index[host]
		if !ok {
			i = len(hosts)
			index[host] = i
			hosts = append(hosts, Host{Host: host})
		}
		switch n := len(hosts[i].Packages); {
		case n < MaxHostPackages:
			hosts[i].Packages = append(hosts[i].Packages, pkg.Name)
		case n == MaxHostPackages:
			hosts[i].Packages = append(hosts[i].Packages, MoreMarker)
		}
	}
	return hosts
}

func (c *Client) fetch(ctx context.Context) ([]Package, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/packages", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch package list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch package list: unexpected status %d", resp.StatusCode)
	}
	var list []Package
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode package list: %w", err)
	}
	if list == nil {
		list = []Package{}
	}
	return list, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.Host != "" {
		return u.Host
	}
	// scp 风格：git@github.com:owner/repo.git
	if at := strings.Index(raw, "@"); at >= 0 {
		rest := raw[at+1:]
		if colon := strings.Index(rest, ":"); colon > 0 {
			return rest[:colon]
		}
	}
	return ""
}

