package route

import "strings"

// Join 拼接控制器前缀与方法路径
func Join(prefix, path string) string {
	prefix = strings.TrimSpace(prefix)
	path = strings.TrimSpace(path)

	switch {
	case prefix == "" && path == "":
		return "/"
	case prefix == "":
		return Clean(path)
	case path == "":
		return Clean(prefix)
	}
	return Clean(strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(path, "/"))
}

// Clean 规范化路径：补全前导斜杠、合并重复斜杠、去掉末尾斜杠
func Clean(p string) string {
	if p == "" {
		return "/"
	}

	var b strings.Builder
	b.Grow(len(p) + 1)
	if p[0] != '/' {
		b.WriteByte('/')
	}
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}

	out := b.String()
	if len(out) > 1 {
		out = strings.TrimRight(out, "/")
	}
	return out
}
