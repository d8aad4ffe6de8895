// Package route 提供 URI 模板的编译与匹配，ws 路由器与 HTTP 挂载共用同一套语义。
//
// 支持的占位符：
//
//	/chat/{room}            单段参数
//	/chat/{room<[0-9]+>}    带正则约束的单段参数
//	/files/{path*}          匹配剩余路径（可跨段）
//	/chat/:room             gin 风格单段参数
//	/files/*path            gin 风格剩余路径
package route

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPattern 模板为空
	ErrEmptyPattern = errors.New("route: empty pattern")
	// ErrInvalidPattern 模板格式错误
	ErrInvalidPattern = errors.New("route: invalid pattern")
)

// Template 已编译的 URI 模板
type Template struct {
	raw     string
	ginPath string
	names   []string
	re      *regexp.Regexp // 静态模板为 nil
}

// Compile 编译 URI 模板
func Compile(pattern string) (*Template, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	pattern = Clean(pattern)

	segments := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	var (
		exprParts = make([]string, 0, len(segments))
		ginParts  = make([]string, 0, len(segments))
		names     []string
		dynamic   bool
	)

	for i, seg := range segments {
		last := i == len(segments)-1
		name, expr, rest, ok, err := parseSegment(seg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
		}
		if !ok {
			exprParts = append(exprParts, regexp.QuoteMeta(seg))
			ginParts = append(ginParts, seg)
			continue
		}

		dynamic = true
		if rest && !last {
			return nil, fmt.Errorf("%w: %q: wildcard must be the last segment", ErrInvalidPattern, pattern)
		}
		for _, n := range names {
			if n == name {
				return nil, fmt.Errorf("%w: %q: duplicate parameter %s", ErrInvalidPattern, pattern, name)
			}
		}
		names = append(names, name)

		switch {
		case rest:
			exprParts = append(exprParts, "(.*)")
			ginParts = append(ginParts, "*"+name)
		case expr != "":
			if _, err := regexp.Compile(expr); err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
			}
			exprParts = append(exprParts, "("+expr+")")
			ginParts = append(ginParts, ":"+name)
		default:
			exprParts = append(exprParts, "([^/]+)")
			ginParts = append(ginParts, ":"+name)
		}
	}

	t := &Template{
		raw:     pattern,
		ginPath: "/" + strings.Join(ginParts, "/"),
		names:   names,
	}
	if dynamic {
		re, err := regexp.Compile("^/" + strings.Join(exprParts, "/") + "$")
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
		}
		t.re = re
	}
	return t, nil
}

// MustCompile 编译模板，失败时 panic
func MustCompile(pattern string) *Template {
	t, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return t
}

// parseSegment 解析单个路径段
// 返回参数名、正则约束、是否为剩余路径通配、是否为参数段
func parseSegment(seg string) (name, expr string, rest, ok bool, err error) {
	switch {
	case strings.HasPrefix(seg, ":"):
		name = seg[1:]
		ok = true
	case strings.HasPrefix(seg, "*"):
		name = seg[1:]
		rest, ok = true, true
	case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
		inner := seg[1 : len(seg)-1]
		ok = true
		if i := strings.IndexByte(inner, '<'); i >= 0 {
			if !strings.HasSuffix(inner, ">") {
				return "", "", false, false, errors.New("unterminated constraint in " + seg)
			}
			name, expr = inner[:i], inner[i+1:len(inner)-1]
			if expr == "" {
				return "", "", false, false, errors.New("empty constraint in " + seg)
			}
		} else if strings.HasSuffix(inner, "*") {
			name, rest = strings.TrimSuffix(inner, "*"), true
		} else {
			name = inner
		}
	case strings.ContainsAny(seg, "{}"):
		return "", "", false, false, errors.New("malformed segment " + seg)
	default:
		return "", "", false, false, nil
	}

	if name == "" {
		return "", "", false, false, errors.New("missing parameter name in " + seg)
	}
	return name, expr, rest, ok, nil
}

// Match 判断 uri 是否匹配模板
func (t *Template) Match(uri string) bool {
	if t.re == nil {
		return Clean(uri) == t.raw
	}
	return t.re.MatchString(Clean(uri))
}

// Params 提取路径参数，不匹配时返回 false
func (t *Template) Params(uri string) (map[string]string, bool) {
	uri = Clean(uri)
	if t.re == nil {
		if uri != t.raw {
			return nil, false
		}
		return map[string]string{}, true
	}

	m := t.re.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(t.names))
	for i, name := range t.names {
		params[name] = m[i+1]
	}
	return params, true
}

// Names 返回参数名列表
func (t *Template) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// IsStatic 是否为纯字面量模板
func (t *Template) IsStatic() bool {
	return t.re == nil
}

// GinPath 返回 gin 路由语法的等价路径
// 正则约束在 gin 中无法表达，挂载后由 Match 二次校验
func (t *Template) GinPath() string {
	return t.ginPath
}

// String 返回规范化后的模板
func (t *Template) String() string {
	return t.raw
}
