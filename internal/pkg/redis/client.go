// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 的 UniversalClient，并维护一个按名字索引的 Lua 脚本表。
// 脚本在初始化时加载一次，调用方只通过名字执行。
type Client struct {
	client redis.UniversalClient

	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

// NewClient 创建一个 redis 客户端。addrs 格式 "host:port,host:port"，
// 单地址时为单机模式，多地址时为集群模式。
func NewClient(addrs string) (*Client, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: strings.Split(addrs, ","),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addrs, err)
	}

	return &Client{
		client:  client,
		scripts: make(map[string]*redis.Script),
	}, nil
}

// GetClient 返回底层的 UniversalClient，供需要 pipeline 等高级操作的调用方使用。
func (c *Client) GetClient() redis.UniversalClient {
	return c.client
}

// LoadScriptFromContent 注册一段 Lua 脚本。
func (c *Client) LoadScriptFromContent(name, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("script %s is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = redis.NewScript(content)
	return nil
}

// RunScript 执行一段已注册的脚本。go-redis 的 Script.Run 会先尝试 EVALSHA，
// 脚本未缓存时自动回退到 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %s is not loaded", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// Close 关闭底层连接。
func (c *Client) Close() error {
	return c.client.Close()
}
