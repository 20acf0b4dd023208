// Package redis 封装 go-redis 客户端，并提供按名称管理 Lua 脚本的能力。
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Nil 是 key 不存在时 go-redis 返回的错误，重新导出以免调用方直接依赖 go-redis。
const Nil = goredis.Nil

// Options 是创建客户端所需的配置。
type Options struct {
	Addrs        string // "host1:port1,host2:port2"，多于一个地址时使用集群客户端
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client 持有底层的 UniversalClient 以及已注册的脚本。
type Client struct {
	client  goredis.UniversalClient
	scripts map[string]*goredis.Script
	mu      sync.RWMutex
}

// NewClient 根据配置创建客户端并做一次连通性检查。
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	addrs := splitAddrs(opts.Addrs)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis: no address configured")
	}
	uc := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        addrs,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	if err := uc.Ping(ctx).Err(); err != nil {
		_ = uc.Close()
		return nil, fmt.Errorf("redis: ping %v: %w", addrs, err)
	}
	return Wrap(uc), nil
}

// Wrap 用已有的 UniversalClient 构造 Client（测试中配合 miniredis 使用）。
func Wrap(uc goredis.UniversalClient) *Client {
	return &Client{client: uc, scripts: make(map[string]*goredis.Script)}
}

// GetClient 返回底层客户端，用于执行普通命令或 pipeline。
func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

// LoadScriptFromContent 以 name 注册一段 Lua 脚本。
func (c *Client) LoadScriptFromContent(name, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("redis: script %q is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript 执行已注册的脚本。EVALSHA 未命中时 go-redis 会自动回退到 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("redis: script %q not loaded", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// Close 关闭底层连接。
func (c *Client) Close() error {
	return c.client.Close()
}

func splitAddrs(raw string) []string {
	var addrs []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}
