package realtime

// BrokerClient is a multi-topic client for a STOMP broker. Subscriptions
// are explicit per topic and publishing is independent of them.
type BrokerClient struct {
	client *Client
}

// NewBrokerClient creates a broker client. The reconnect delay defaults to
// DefaultBrokerReconnectDelay.
func NewBrokerClient(opts ...Option) *BrokerClient {
	opts = append([]Option{WithReconnectDelay(DefaultBrokerReconnectDelay)}, opts...)
	return &BrokerClient{client: New(NewSTOMPProtocol(), opts...)}
}

// Connect starts connecting to cfg.Address.
func (b *BrokerClient) Connect(cfg ConnectionConfig) (State, error) {
	return b.client.Connect(cfg)
}

// Subscribe registers handler for topic. Messages reach the handler once
// the broker acknowledged the subscription.
func (b *BrokerClient) Subscribe(topic string, handler MessageHandler) error {
	return b.client.Subscribe(topic, handler)
}

// Unsubscribe removes the handler for topic. Unknown topics are ignored.
func (b *BrokerClient) Unsubscribe(topic string) error {
	return b.client.Unsubscribe(topic)
}

// Publish sends payload to destination as JSON. Byte slices are assumed
// to be encoded already.
func (b *BrokerClient) Publish(destination string, payload any) error {
	body, err := encodeJSONPayload(payload)
	if err != nil {
		return err
	}
	return b.client.Publish(destination, body)
}

// Disconnect sends DISCONNECT when the session is ready, then closes the
// connection. It is idempotent.
func (b *BrokerClient) Disconnect() error { return b.client.Disconnect() }

// State returns the current connection state.
func (b *BrokerClient) State() State { return b.client.State() }

// Subscriptions returns the registered topics in insertion order.
func (b *BrokerClient) Subscriptions() []string { return b.client.Subscriptions() }

// Done is closed once the client has shut down.
func (b *BrokerClient) Done() <-chan struct{} { return b.client.Done() }

// Client returns the underlying connection manager.
func (b *BrokerClient) Client() *Client { return b.client }
