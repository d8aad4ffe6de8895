// Package ws provides the connection registry, event hub and controller router
// behind a qiws WebSocket server.
//
// # Features
//
//   - Per-endpoint connection registry with snapshot-then-write broadcast
//   - Ordered listeners with replay of live connections on registration
//   - Message callbacks on a bounded worker pool, off the transport goroutine
//   - Controller bindings on URI templates, validated at bind time
//   - Text and binary frames kept distinct end to end
//   - Failure isolation: a failing listener or binding never blocks the others
//   - Origin whitelist for security
//
// # Basic Usage
//
// Create a dispatcher, a router and a transport:
//
//	d, err := ws.NewDispatcher(
//	    ws.WithMaxConnections(10000),
//	    ws.WithHeartbeatInterval(30 * time.Second),
//	    ws.WithCheckOriginWhitelist([]string{
//	        "https://example.com",
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	router := ws.NewRouter(d)
//	router.Bind(&ChatController{})
//	router.Start()
//
//	transport := ws.NewTransport(d)
//	http.Handle("/chat", transport.Handler())
//
// # Controllers
//
// A controller declares its bindings in Routes. Method shapes are checked
// when the controller is bound; a rejected declaration is logged and skipped.
//
//	type ChatController struct {
//	    pub ws.Publisher
//	}
//
//	func (c *ChatController) Prefix() string { return "/chat" }
//
//	func (c *ChatController) Routes(r *ws.Routes) {
//	    r.OnOpen("/{room}", c.Join)
//	    r.OnMessage("/{room}", ws.Typed(c.Say))
//	}
//
//	func (c *ChatController) Join(uri, clientID string) {
//	    c.pub.PublishText(uri, clientID+" joined")
//	}
//
//	func (c *ChatController) Say(uri, clientID string, msg ChatMessage) error {
//	    c.pub.PublishText(uri, msg.Text)
//	    return nil
//	}
//
// Accepted shapes:
//
//	// opened / closed
//	func(uri, clientID string)
//	func(uri, clientID string) error
//	func(ctx context.Context, uri, clientID string) error
//
//	// message
//	func(uri, clientID string, payload []byte) [error]
//	func(uri, clientID, payload string) [error]
//	func(ctx context.Context, uri, clientID string, payload []byte) error
//	ws.Typed(func(uri, clientID string, payload T) error)
//
// # Listeners
//
// Any Listener can be registered on the dispatcher. Opened and Closed are
// delivered synchronously in registration order; Received is submitted to
// the executor once per listener.
//
//	d.RegisterListener(&ws.ListenerFuncs{
//	    OnOpened: func(ctx context.Context, endpoint, clientID string) error {
//	        log.Printf("%s joined %s", clientID, endpoint)
//	        return nil
//	    },
//	})
//
// # Graceful Shutdown
//
//	transport.CloseAll()
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	d.Close(ctx)
package ws
