package ws

import "context"

// Controller 声明事件绑定的控制器
type Controller interface {
	Routes(r *Routes)
}

// Prefixer 控制器级 URI 前缀
type Prefixer interface {
	Prefix() string
}

// declaration 单条绑定声明
type declaration struct {
	kind    EventKind
	path    string
	handler any
}

// Routes 收集控制器的绑定声明
type Routes struct {
	decls []declaration
}

// OnOpen 声明连接建立回调
func (r *Routes) OnOpen(path string, handler any) *Routes {
	return r.add(EventOpened, path, handler)
}

// OnClose 声明连接关闭回调
func (r *Routes) OnClose(path string, handler any) *Routes {
	return r.add(EventClosed, path, handler)
}

// OnMessage 声明消息回调
func (r *Routes) OnMessage(path string, handler any) *Routes {
	return r.add(EventMessage, path, handler)
}

func (r *Routes) add(kind EventKind, path string, handler any) *Routes {
	r.decls = append(r.decls, declaration{kind: kind, path: path, handler: handler})
	return r
}

// Len 返回声明数量
func (r *Routes) Len() int {
	return len(r.decls)
}

type paramsKey struct{}

// withParams 将模板参数写入 Context
func withParams(ctx context.Context, params map[string]string) context.Context {
	if len(params) == 0 {
		return ctx
	}
	return context.WithValue(ctx, paramsKey{}, params)
}

// Params 读取当前调用匹配到的模板参数
func Params(ctx context.Context) map[string]string {
	params, _ := ctx.Value(paramsKey{}).(map[string]string)
	return params
}

// Param 读取单个模板参数
func Param(ctx context.Context, name string) string {
	return Params(ctx)[name]
}
