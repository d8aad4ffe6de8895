package qiws

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 框架版本号
const Version = "0.3.0"

// banner ASCII Art
const banner = `
 ██████╗ ██╗    qiws 基于 Gin 的 WebSocket 服务
██╔═══██╗██║	连接注册表、事件分发与控制器路由
██║   ██║██║	github: https://github.com/tokmz/qiws
██║▄▄ ██║██║	open: %s
╚██████╔╝██║	version: %s
 ╚══▀▀═╝ ╚═╝
`

// printBanner 打印启动 banner、路由表与 WebSocket 端点
func (e *Engine) printBanner(addr string) {
	out := os.Stdout

	// 拼接访问地址
	var open string
	if strings.HasPrefix(addr, ":") {
		open = "ws://127.0.0.1" + addr
	} else if strings.Contains(addr, ":") {
		open = "ws://" + addr
	} else {
		open = "ws://127.0.0.1:" + addr
	}

	fPrint(out, banner, open, Version)
	fPrint(out, "\n")

	// 打印路由表
	routes := e.engine.Routes()
	if len(routes) > 0 {
		printRoutes(out, routes, e.config.Mode, e.Endpoints())
		fPrint(out, "\n")
	}

	// 打印运行模式
	mode := e.config.Mode
	if mode == gin.DebugMode {
		fPrint(out, "[qiws] Running in \"%s\" mode. Switch to \"release\" mode in production.\n", mode)
	} else {
		fPrint(out, "[qiws] Running in \"%s\" mode.\n", mode)
	}

	// 打印环境信息
	fPrint(out, "[qiws] Go version: %s | OS: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if e.relay != nil {
		fPrint(out, "[qiws] Relay node: %s\n", e.relay.Node())
	}

	// 打印启动信息
	fPrint(out, "[qiws] Listening on %s\n", addr)
}

// methodColor 根据 HTTP 方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m" // 蓝色
	case "POST":
		return "\033[32m" // 绿色
	case "PUT":
		return "\033[33m" // 黄色
	case "DELETE":
		return "\033[31m" // 红色
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 格式化打印路由表，WebSocket 端点显示其模板
func printRoutes(out io.Writer, routes gin.RoutesInfo, mode string, endpoints map[string]string) {
	sort.Slice(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })

	// 计算路径列最大宽度，用于对齐
	maxPathLen := 0
	for _, r := range routes {
		if len(r.Path) > maxPathLen {
			maxPathLen = len(r.Path)
		}
	}

	for _, r := range routes {
		target := r.Handler
		if tpl, ok := endpoints[r.Path]; ok {
			target = "ws " + tpl
		}
		fPrint(out, "[qiws-%s] %s %-7s %s %-*s --> %s\n",
			mode,
			methodColor(r.Method), r.Method, resetColor,
			maxPathLen, r.Path,
			target)
	}
}

// silenceGin 静默 Gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误（banner 输出场景）
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
