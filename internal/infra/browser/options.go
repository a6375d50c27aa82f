package browser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	defaultNavTimeout = 60 * time.Second
	defaultWindowW    = 1366
	defaultWindowH    = 900

	// defaultUserAgent 是未配置 user_agent 时的固定 UA，每次运行都一样。
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"
)

// Options 把“启动参数 + 代理 + UA”固化为统一策略；provider 不关心浏览器怎么启动。
type Options struct {
	Headless bool
	// ProxyURL 非空时所有流量走代理（http/https/socks5）。
	ProxyURL string
	// UserAgent 为空时使用 defaultUserAgent。
	UserAgent string
	// NavTimeout 是单次导航的上限；<=0 时使用默认值。
	NavTimeout time.Duration
	// ExecPath 为空时由 chromedp 自行查找 Chrome/Chromium。
	ExecPath string
}

type flag struct {
	Name  string
	Value any
}

// execFlags 计算 Chrome 启动 flag（纯函数，便于测试）。
func execFlags(o Options) ([]flag, string, error) {
	flags := []flag{
		{"headless", o.Headless},
		{"disable-gpu", true},
		{"no-first-run", true},
		{"no-default-browser-check", true},
		{"disable-extensions", true},
		{"mute-audio", true},
		{"window-size", fmt.Sprintf("%d,%d", defaultWindowW, defaultWindowH)},
	}

	proxy := strings.TrimSpace(o.ProxyURL)
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, "", fmt.Errorf("proxy.url 无效：%q", proxy)
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			return nil, "", fmt.Errorf("proxy.url 只支持 http/https/socks5：%q", proxy)
		}
		if u.User != nil {
			// Chrome 的 --proxy-server 不接受凭据；带认证的代理需要额外的 Fetch.authRequired 处理。
			return nil, "", errors.New("proxy.url 不支持内嵌用户名/密码")
		}
		flags = append(flags, flag{"proxy-server", u.Scheme + "://" + u.Host})
	}

	ua := strings.TrimSpace(o.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return flags, ua, nil
}

// allocatorOptions 在 chromedp 默认参数之上叠加 execFlags。
func allocatorOptions(o Options) ([]chromedp.ExecAllocatorOption, error) {
	flags, ua, err := execFlags(o)
	if err != nil {
		return nil, err
	}
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range flags {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	opts = append(opts, chromedp.UserAgent(ua))
	if p := strings.TrimSpace(o.ExecPath); p != "" {
		opts = append(opts, chromedp.ExecPath(p))
	}
	return opts, nil
}
