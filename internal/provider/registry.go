package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Registry 把变体名（大小写不敏感）映射到 provider。构造后只读。
type Registry struct {
	byName map[string]Provider
}

// NewRegistry 拒绝空 provider、空名字与重名（忽略大小写）。
func NewRegistry(providers ...Provider) (Registry, error) {
	reg := Registry{byName: make(map[string]Provider, len(providers))}
	for i, p := range providers {
		if p == nil {
			return Registry{}, fmt.Errorf("第 %d 个 provider 为空", i+1)
		}
		key := normName(p.Name())
		if key == "" {
			return Registry{}, fmt.Errorf("第 %d 个 provider 没有名字", i+1)
		}
		if _, dup := reg.byName[key]; dup {
			return Registry{}, fmt.Errorf("变体 %q 重复注册", key)
		}
		reg.byName[key] = p
	}
	return reg, nil
}

func (r Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[normName(name)]
	return p, ok
}

// Resolve 与 Get 相同，但找不到时返回列出可选变体的错误（直接给用户看）。
func (r Registry) Resolve(name string) (Provider, error) {
	if p, ok := r.Get(name); ok {
		return p, nil
	}
	return nil, fmt.Errorf("未知变体 %q（可选：%s）", strings.TrimSpace(name), strings.Join(r.Names(), ", "))
}

// Names 返回已注册的变体名（字典序）。
func (r Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normName(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
