package network

import (
	"log"
	"time"
)

// reconnectLoop retries the connection with exponential backoff until it
// comes back, the attempt budget runs out, or a manual disconnect intervenes.
// Only one loop runs at a time; the attempt counter is reset when a
// connection reaches Ready, so flapping links do not accumulate budget.
func (c *Client) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	policy := c.cfg.Reconnect
	for {
		c.mu.Lock()
		attempt := c.attempts
		manual := c.manual
		c.mu.Unlock()

		if manual {
			return
		}

		if policy.Exhausted(attempt) {
			log.Printf("❌ Reconnect attempts exhausted after %d tries, giving up", attempt)
			c.mu.Lock()
			c.state = StateUnavailable
			c.mu.Unlock()
			c.notifyState(StateUnavailable)
			return
		}

		delay := policy.Delay(attempt)
		log.Printf("🔄 Reconnecting in %v (attempt %d/%d)", delay, attempt+1, policy.MaxAttempts)
		time.Sleep(delay)

		c.mu.Lock()
		c.attempts++
		manual = c.manual
		state := c.state
		c.mu.Unlock()
		if manual {
			return
		}
		// A manual Connect may have brought the link back during the backoff
		// sleep; retrying now would tear down the healthy connection.
		if state == StateConnecting || state == StateConnected || state == StateReady {
			return
		}

		if err := c.connect(false); err == nil {
			return
		}
	}
}
