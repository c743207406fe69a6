package realtime

import "time"

const (
	// DefaultSocketReconnectDelay is the retry delay of SocketClient.
	DefaultSocketReconnectDelay = 3 * time.Second

	// DefaultBrokerReconnectDelay is the retry delay of BrokerClient.
	DefaultBrokerReconnectDelay = 5 * time.Second
)

// ReconnectPolicy decides whether and when to retry after an unclean close.
// attempt is 1-based; delay is the configured ConnectionConfig.ReconnectDelay.
// Returning false stops retrying.
type ReconnectPolicy interface {
	Next(attempt int, delay time.Duration) (time.Duration, bool)
}

// ReconnectPolicyFunc adapts a function to ReconnectPolicy.
type ReconnectPolicyFunc func(attempt int, delay time.Duration) (time.Duration, bool)

// Next calls f.
func (f ReconnectPolicyFunc) Next(attempt int, delay time.Duration) (time.Duration, bool) {
	return f(attempt, delay)
}

// FixedDelay retries after the configured delay regardless of the attempt
// number. MaxAttempts of zero retries forever.
type FixedDelay struct {
	MaxAttempts int
}

// Next returns delay until MaxAttempts is exceeded.
func (p FixedDelay) Next(attempt int, delay time.Duration) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	return delay, true
}

// ReconnectAttempt describes a scheduled retry. It exists from an unclean
// close until the retry fires or Disconnect cancels it.
type ReconnectAttempt struct {
	// Attempt is the 1-based number of consecutive retries.
	Attempt int

	// Delay is the wait before the retry.
	Delay time.Duration

	// At is when the retry is due.
	At time.Time

	timer Timer
	token uint64
}

// cancel stops the retry timer.
func (a *ReconnectAttempt) cancel() {
	if a != nil && a.timer != nil {
		a.timer.Stop()
	}
}
