// chat 多房间聊天示例
//
//	go run ./example/chat -config example/chat/config.yaml
//	websocat ws://127.0.0.1:8080/chat/lobby
//
// 发送 {"text":"hi"} 会广播到同一房间的全部连接，启用 relay 后跨节点广播。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tokmz/qiws"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/presence"
	"github.com/tokmz/qiws/pkg/relay"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/ws"
	"go.uber.org/zap"
)

// chatMessage 客户端消息
type chatMessage struct {
	Text string `json:"text"`
}

// broadcast 房间广播消息
type broadcast struct {
	Room string    `json:"room"`
	From string    `json:"from"`
	Kind string    `json:"kind"`
	Text string    `json:"text,omitempty"`
	At   time.Time `json:"at"`
}

// ChatController 聊天室控制器
type ChatController struct {
	out *ws.Router
	log logger.Logger
}

// Prefix 实现 ws.Prefixer
func (c *ChatController) Prefix() string { return "/chat" }

// Routes 实现 ws.Controller
func (c *ChatController) Routes(r *ws.Routes) {
	r.OnOpen("/{room}", c.Join).
		OnClose("/{room}", c.Leave).
		OnMessage("/{room}", ws.Typed(c.Say))
}

// Join 进入房间
func (c *ChatController) Join(ctx context.Context, uri, clientID string) error {
	c.log.InfoContext(ctx, "join", zap.String("room", ws.Param(ctx, "room")))
	c.out.PublishValue(uri, broadcast{Room: ws.Param(ctx, "room"), From: clientID, Kind: "join", At: time.Now()})
	return nil
}

// Leave 离开房间
func (c *ChatController) Leave(uri, clientID string) {
	c.out.PublishValue(uri, broadcast{From: clientID, Kind: "leave", At: time.Now()})
}

// Say 发言
func (c *ChatController) Say(uri, clientID string, msg chatMessage) error {
	if msg.Text == "" {
		return fmt.Errorf("empty message from %s", clientID)
	}
	c.out.PublishValue(uri, broadcast{From: clientID, Kind: "say", Text: msg.Text, At: time.Now()})
	return nil
}

func main() {
	path := flag.String("config", "example/chat/config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	fc, err := qiws.LoadConfig(path)
	if err != nil {
		return err
	}

	log, err := fc.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	opts := append(fc.Options(), qiws.WithLogger(log))

	if tc := fc.TracingConfig(); tc != nil {
		tp, err := tracing.NewTracerProvider(tc)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.Shutdown(ctx)
		}()
		opts = append(opts, qiws.WithTracing(tp))
	}

	ctx := context.Background()
	client, err := fc.NewRedisClient(ctx)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
	}

	broker, err := fc.NewBroker(client, relay.WithBrokerLogger(log))
	if err != nil {
		return err
	}
	if broker != nil {
		opts = append(opts, qiws.WithRelay(broker, fc.RelayOptions()...))
	}

	engine, err := qiws.New(opts...)
	if err != nil {
		return err
	}

	// 修改 log.level 或 ws.handshake_rate 后无需重启
	watcher, err := qiws.WatchConfig(path, engine)
	if err != nil {
		return err
	}
	defer watcher.Close()

	// 在线状态：有 Redis 时跨节点共享，否则仅本节点
	var store presence.Store = presence.NewMemoryStore()
	if client != nil {
		store = presence.NewRedisStore(client, "qiws:presence:", 0)
	}
	online := presence.NewListener(store, presence.WithLogger(log))
	engine.Use(online)

	if err := engine.Register(&ChatController{out: engine.Router(), log: log}); err != nil {
		return err
	}

	engine.Gin().GET("/rooms/:room/members", func(c *gin.Context) {
		members, err := online.Members(c.Request.Context(), "/chat/"+c.Param("room"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, qiws.Fail(http.StatusInternalServerError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, qiws.Success(members))
	})

	return engine.RunWithSignal()
}
