package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/John-Robertt/skymiles/internal/domain"
	"github.com/John-Robertt/skymiles/internal/infra/fsx"
)

// Store 提供页面快照目录（<out>/pages/<run_id>/）的读写。
//
// 每行最多三个文件，共享同一个 stem（例如 0003_ABJ-ADD）：
// - .json：行参数 + 判定结果（reparse 依赖它还原 InputRow）
// - .html：提交后的页面 HTML
// - .png：失败时的截图（可选）
//
// 约束：
// - reparse：只允许读（ReadOnly=true）
// - run：允许写（ReadOnly=false）
type Store struct {
	Root     string
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

// Meta 是快照的 JSON 部分。
type Meta struct {
	Index      int             `json:"index"`
	Variant    string          `json:"variant"`
	Row        domain.InputRow `json:"row"`
	State      string          `json:"state"`
	Outcome    string          `json:"outcome"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Entry 是 List 返回的一条快照索引。
type Entry struct {
	Meta     Meta
	HTMLPath string
	PNGPath  string
}

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

var routeRE = regexp.MustCompile(`^[A-Z]{3}-[A-Z]{3}$`)

// Stem 返回某行快照的文件名前缀。
func Stem(index int, row domain.InputRow) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("index 不能为负：%d", index)
	}
	route := row.Route()
	// 最小约束：避免路径穿越；route 来自已规范化的 IATA 代码。
	if !routeRE.MatchString(route) {
		return "", fmt.Errorf("非法 route：%q", route)
	}
	return fmt.Sprintf("%04d_%s", index, route), nil
}

// Write 写入一行的快照；html/png 为空时跳过对应文件。
func (s Store) Write(m Meta, html, png []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	stem, err := Stem(m.Index, m.Row)
	if err != nil {
		return err
	}
	if m.CapturedAt.IsZero() {
		m.CapturedAt = time.Now()
	}
	m.CapturedAt = m.CapturedAt.UTC()

	if len(html) > 0 {
		if err := fsx.WriteReplace(s.Root, stem+".html", html); err != nil {
			return err
		}
	}
	if len(png) > 0 {
		if err := fsx.WriteReplace(s.Root, stem+".png", png); err != nil {
			return err
		}
	}
	// json 最后写：它存在即代表该快照完整。
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fsx.WriteReplace(s.Root, stem+".json", append(b, '\n'))
}

// List 读取目录下所有快照（按 index 升序）。坏 JSON 直接报错，避免 reparse 静默丢行。
func (s Store) List() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.Root, "*.json"))
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(matches))
	for _, p := range matches {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var m Meta
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("快照 %q 无法解析：%w", filepath.Base(p), err)
		}
		stem := strings.TrimSuffix(p, ".json")
		e := Entry{Meta: m}
		if fileExists(stem + ".html") {
			e.HTMLPath = stem + ".html"
		}
		if fileExists(stem + ".png") {
			e.PNGPath = stem + ".png"
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Meta.Index < out[j].Meta.Index })
	return out, nil
}

// ReadHTML 读取快照 HTML；不存在时 ok=false。
func (s Store) ReadHTML(e Entry) ([]byte, bool, error) {
	if e.HTMLPath == "" {
		return nil, false, nil
	}
	b, err := os.ReadFile(e.HTMLPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
