package realtime

// SocketClient is a single-channel client: every inbound frame is a message
// for one implicit topic and Send writes payloads directly.
type SocketClient struct {
	client *Client
}

// NewSocketClient creates a socket client. The reconnect delay defaults to
// DefaultSocketReconnectDelay.
func NewSocketClient(opts ...Option) *SocketClient {
	opts = append([]Option{WithReconnectDelay(DefaultSocketReconnectDelay)}, opts...)
	return &SocketClient{client: New(NewSocketProtocol(), opts...)}
}

// Connect starts connecting to cfg.Address.
func (s *SocketClient) Connect(cfg ConnectionConfig) (State, error) {
	return s.client.Connect(cfg)
}

// OnMessage sets the message handler, replacing any earlier one.
func (s *SocketClient) OnMessage(handler MessageHandler) error {
	return s.client.Subscribe(ImplicitTopic, handler)
}

// Send writes payload as one frame. Strings and byte slices are sent as-is,
// other values are JSON encoded.
func (s *SocketClient) Send(payload any) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	return s.client.Send(data)
}

// SendRaw writes data as one frame.
func (s *SocketClient) SendRaw(data []byte) error {
	return s.client.Send(data)
}

// Disconnect closes the connection and stops delivery. It is idempotent.
func (s *SocketClient) Disconnect() error { return s.client.Disconnect() }

// State returns the current connection state.
func (s *SocketClient) State() State { return s.client.State() }

// Done is closed once the client has shut down.
func (s *SocketClient) Done() <-chan struct{} { return s.client.Done() }

// Client returns the underlying connection manager.
func (s *SocketClient) Client() *Client { return s.client }
