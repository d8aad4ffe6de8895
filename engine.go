package qiws

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/relay"
	"github.com/tokmz/qiws/pkg/route"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine WebSocket 服务
// 以 gin 承载 HTTP，控制器模板挂载为 GET 路由，握手后交给 ws.Transport
type Engine struct {
	config *Config
	engine *gin.Engine
	logger logger.Logger

	dispatcher *ws.Dispatcher
	router     *ws.Router
	transport  *ws.Transport
	relay      *relay.Relay

	handshake *Limiter

	mu       sync.Mutex
	mounted  map[string]string // gin 路径 -> 模板
	server   *http.Server
	addr     string
	shutdown sync.Once
	downErr  error
}

// New 创建 Engine，使用 Options 模式配置
func New(opts ...Option) (*Engine, error) {
	// 应用默认配置
	config := defaultConfig()

	// 应用用户提供的选项
	for _, opt := range opts {
		opt(config)
	}

	log := config.Logger
	if log == nil {
		log = logger.Nop()
	}

	// 设置 Gin 模式（全局状态）
	if gin.Mode() == gin.DebugMode || config.Mode != gin.DebugMode {
		gin.SetMode(config.Mode)
	}

	// 静默 Gin 默认输出，由 banner 自行打印
	silenceGin()

	wsOpts := append([]ws.Option{ws.WithLogger(log)}, config.WS...)
	if config.TracerProvider != nil {
		wsOpts = append(wsOpts, ws.WithTracerProvider(config.TracerProvider))
	}
	dispatcher, err := ws.NewDispatcher(wsOpts...)
	if err != nil {
		return nil, errors.ErrConfig.WithError(err).WithMessage(err.Error())
	}

	e := &Engine{
		config:     config,
		engine:     gin.New(),
		logger:     log,
		dispatcher: dispatcher,
		transport:  ws.NewTransport(dispatcher),
		mounted:    make(map[string]string),
		handshake:  NewLimiter(config.Handshake, log),
	}

	// 跨节点转发时，控制器的出站消息经 Relay 发布
	routerOpts := []ws.RouterOption{ws.WithRouterLogger(log)}
	if config.Broker != nil {
		relayOpts := append([]relay.Option{relay.WithLogger(log)}, config.Relay...)
		if config.TracerProvider != nil {
			relayOpts = append(relayOpts, relay.WithTracerProvider(config.TracerProvider))
		}
		e.relay = relay.New(dispatcher, config.Broker, relayOpts...)
		routerOpts = append(routerOpts, ws.WithPublisher(e.relay))
	}
	e.router = ws.NewRouter(dispatcher, routerOpts...)
	e.router.Start()

	// 设置信任的代理
	if config.TrustedProxies != nil {
		if err := e.engine.SetTrustedProxies(config.TrustedProxies); err != nil {
			log.Warn("设置信任代理失败", zap.Error(err))
		}
	}

	// 中间件顺序：Recovery -> Tracing -> Logger
	e.engine.Use(Recovery(log))
	if config.Tracing {
		mwOpts := []tracing.MiddlewareOption{
			tracing.WithFilter(func(c *gin.Context) bool {
				return c.Request.URL.Path != config.HealthPath
			}),
		}
		e.engine.Use(tracing.Middleware(mwOpts...))
	}
	e.engine.Use(logger.GinMiddleware(log))

	e.engine.NoRoute(func(c *gin.Context) {
		abortWithError(c, errors.ErrNotFound)
	})

	if config.HealthPath != "" {
		e.engine.GET(config.HealthPath, e.health)
	}

	return e, nil
}

// Gin 返回底层 gin.Engine，可注册普通 HTTP 路由
func (e *Engine) Gin() *gin.Engine { return e.engine }

// Handler 返回 http.Handler
func (e *Engine) Handler() http.Handler { return e.engine }

// Dispatcher 返回事件分发中心
func (e *Engine) Dispatcher() *ws.Dispatcher { return e.dispatcher }

// Router 返回控制器路由
func (e *Engine) Router() *ws.Router { return e.router }

// Transport 返回传输层
func (e *Engine) Transport() *ws.Transport { return e.transport }

// Relay 返回跨节点转发器，未启用时为 nil
func (e *Engine) Relay() *relay.Relay { return e.relay }

// Publisher 返回出站发布器，启用转发时为 Relay
func (e *Engine) Publisher() ws.Publisher {
	if e.relay != nil {
		return e.relay
	}
	return e.dispatcher
}

// Logger 返回日志实例
func (e *Engine) Logger() logger.Logger { return e.logger }

// Handshake 返回握手限流器，未配置限流时默认不限
func (e *Engine) Handshake() *Limiter { return e.handshake }

// Use 注册连接事件监听器，已在线的连接会立即重放 Opened
func (e *Engine) Use(listeners ...ws.Listener) {
	for _, l := range listeners {
		e.dispatcher.RegisterListener(l)
	}
}

// Register 绑定控制器并挂载其模板
// 无效绑定被拒绝并返回错误，同一控制器中的有效绑定依然生效
func (e *Engine) Register(controllers ...ws.Controller) error {
	var errs []error
	for _, c := range controllers {
		errs = append(errs, e.router.Bind(c)...)
	}
	for _, tpl := range e.router.Templates() {
		if err := e.mount(tpl); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// mount 将模板挂载为 GET 路由，同一 gin 路径只挂载一次
func (e *Engine) mount(template string) (err error) {
	t, err := route.Compile(template)
	if err != nil {
		return err
	}
	path := t.GinPath()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.mounted[path]; ok {
		return nil
	}

	// gin 在路由冲突时 panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("qiws: mount %s as %s: %v", template, path, r)
		}
	}()
	handlers := []gin.HandlerFunc{e.handshake.Handler(), e.serveWS}
	e.engine.GET(path, handlers...)
	e.mounted[path] = template

	e.logger.Debug("ws endpoint mounted", zap.String("template", template), zap.String("path", path))
	return nil
}

// Endpoints 返回已挂载的模板
func (e *Engine) Endpoints() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.mounted))
	for k, v := range e.mounted {
		out[k] = v
	}
	return out
}

// serveWS 握手并驱动连接，端点为具体请求路径
func (e *Engine) serveWS(c *gin.Context) {
	if err := e.transport.Accept(c.Request); err != nil {
		switch {
		case stderrors.Is(err, ws.ErrTooManyConnections):
			abortWithError(c, errors.ErrServiceUnavailable.WithError(err))
		default:
			abortWithError(c, errors.ErrForbidden.WithError(err))
		}
		return
	}
	_ = e.transport.Serve(c.Request.URL.Path, c.Writer, c.Request)
}

// health 健康检查
func (e *Engine) health(c *gin.Context) {
	stats := gin.H{
		"connections": e.dispatcher.Registry().Count(),
		"endpoints":   len(e.dispatcher.Registry().Endpoints()),
		"listeners":   e.dispatcher.Listeners(),
	}
	if pool, ok := e.dispatcher.Executor().(*ws.WorkerPool); ok {
		stats["executor"] = pool.Stats()
	}
	if e.relay != nil {
		stats["node"] = e.relay.Node()
	}
	c.JSON(http.StatusOK, Success(stats).WithTraceID(logger.TraceIDFromContext(c.Request.Context())))
}

// Addr 返回实际监听地址，未启动时为空
func (e *Engine) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// Run 启动服务并阻塞，直到 ctx 结束后完成优雅关机
// 监听失败时直接返回错误，由调用方决定是否退出
func (e *Engine) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.config.Server.Addr)
	if err != nil {
		return fmt.Errorf("qiws: listen %s: %w", e.config.Server.Addr, err)
	}

	server := &http.Server{
		Handler:        e.engine,
		ReadTimeout:    e.config.Server.ReadTimeout,
		WriteTimeout:   e.config.Server.WriteTimeout,
		IdleTimeout:    e.config.Server.IdleTimeout,
		MaxHeaderBytes: e.config.Server.MaxHeaderBytes,
	}

	e.mu.Lock()
	e.server = server
	e.addr = ln.Addr().String()
	e.mu.Unlock()

	if e.config.Banner {
		e.printBanner(e.addr)
	}
	e.logger.Info("qiws started", zap.String("addr", e.addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if e.relay != nil {
		g.Go(func() error {
			return e.relay.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.config.Shutdown.Timeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// RunWithSignal 启动服务，收到 SIGINT/SIGTERM 后优雅关机
func (e *Engine) RunWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return e.Run(ctx)
}

// Shutdown 优雅关机：停止接收请求，关闭全部连接，等待回调执行完毕
// 重复调用返回首次结果
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdown.Do(func() {
		e.downErr = e.doShutdown(ctx)
	})
	return e.downErr
}

func (e *Engine) doShutdown(ctx context.Context) error {
	// 执行关机前回调
	if e.config.Shutdown.BeforeShutdown != nil {
		e.config.Shutdown.BeforeShutdown()
	}

	var errs []error

	e.mu.Lock()
	server := e.server
	e.mu.Unlock()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	// 升级后的连接不受 http.Server 管理，需要单独关闭
	closed := e.transport.CloseAll()
	if err := e.waitDrained(ctx); err != nil {
		errs = append(errs, err)
	}

	e.router.Stop()
	if e.relay != nil {
		if err := e.relay.Close(); err != nil {
			errs = append(errs, fmt.Errorf("relay close: %w", err))
		}
	}
	if err := e.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher close: %w", err))
	}

	// 执行关机后回调
	if e.config.Shutdown.AfterShutdown != nil {
		e.config.Shutdown.AfterShutdown()
	}

	err := stderrors.Join(errs...)
	e.logger.Info("qiws stopped", zap.Int("closed_connections", closed), zap.Error(err))
	return err
}

// waitDrained 等待全部连接完成关闭回调
func (e *Engine) waitDrained(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for e.dispatcher.Registry().Count() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait connections: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
