package input

import (
	"fmt"
	"strings"
)

// Error 是输入文件的配置类错误（致命，发生在任何浏览器交互之前）。
type Error struct {
	Code    string
	Path    string
	Line    int
	Missing []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
	}
	if len(e.Missing) > 0 {
		b.WriteString(": 缺少必需列 ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }
