/*
Package resilience provides a circuit breaker for calls to the remote backend.

The channel dials through a Breaker so a backend that is down is not
hammered with connection attempts: after enough consecutive failures the
breaker opens, rejects calls with ErrCircuitOpen for Timeout, then admits a
limited number of trial calls.

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open

Usage:

	breaker := resilience.New("channel-dial", resilience.Settings{
		Timeout: 10 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
	err := breaker.Do(func() error { return dial(ctx) })
*/
package resilience
