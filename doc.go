// Package realtime manages long-lived real-time connections: it establishes
// one transport connection, keeps it alive across transient failures,
// multiplexes named topics over it and delivers parsed messages to
// registered handlers.
//
// # Clients
//
// Two clients are provided on top of the generic Client:
//
//   - SocketClient: a single-channel websocket client with one implicit topic
//   - BrokerClient: a STOMP 1.2 client with per-topic subscriptions and
//     publishing to arbitrary destinations
//
// A client is created with its constructor and released with Disconnect:
//
//	client := realtime.NewBrokerClient(
//	    realtime.OnConnect(func() { log.Println("connected") }),
//	    realtime.OnError(func(err error) { log.Println(err) }),
//	)
//	defer client.Disconnect()
//
//	client.Subscribe("/topic/scores", func(msg *realtime.Message) {
//	    fmt.Println(msg.Topic, msg.Parsed)
//	})
//
//	cfg := realtime.NewConnectionConfig("wss://example.com/ws")
//	cfg.Credential = token
//	if _, err := client.Connect(cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// # Connection lifecycle
//
// A client moves between the states Disconnected, Connecting, Connected,
// Reconnecting and Closed. An unclean close with AutoReconnect set schedules
// one retry after the fixed ReconnectDelay. Disconnect is terminal: it cancels
// the retry, closes the transport and stops message delivery.
//
// Subscriptions stand across reconnects. Every registered topic is armed
// again, in registration order, before the connection is reported ready.
//
// # Callbacks
//
// Callbacks and message handlers of one client are serialized on a single
// goroutine. They may call client methods. Panics are recovered and reported
// through OnError.
//
// # Errors
//
// Caller-facing failures are sentinel errors checked with errors.Is:
// ErrConfig, ErrNotConnected, ErrAlreadyClosed, ErrInvalidTopic and
// ErrRateLimited. Transport failures never reach callers; they are
// reported as *TransportError through OnError and drive the reconnect
// policy. Payloads that fail to decode are reported as *ParseError through
// OnParseError.
//
// # Testing
//
// WithTransport replaces the websocket transport and WithClock drives all
// timers from a clock.Mock, so the lifecycle can be tested without a
// network or real delays.
package realtime
