package ibkr

import (
	"context"
	"net/http"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/tidwall/gjson"

	"github.com/coachpo/asxtrader/errs"
)

const authenticatedPath = "iserver.authStatus.authenticated"

func (c *Connection) startKeepAlive() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	wg := conc.NewWaitGroup()
	wg.Go(func() { c.runTickle(ctx) })
	wg.Go(func() { c.runRenewal(ctx) })
	c.loopCancel = cancel
	c.loopWG = wg
}

// stopKeepAlive cancels the loop and waits for both goroutines to return.
func (c *Connection) stopKeepAlive() {
	c.loopMu.Lock()
	cancel, wg := c.loopCancel, c.loopWG
	c.loopCancel, c.loopWG = nil, nil
	c.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	wg.Wait()
}

func (c *Connection) runTickle(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Config.TickleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.tickle(ctx)
			if ctx.Err() != nil {
				return
			}
			c.metrics.recordTickle(ctx, err)
			if err != nil {
				c.logger.WithError(err).Warn("session tickle failed")
			}
		}
	}
}

// tickle keeps the brokerage session warm and re-runs session init when the
// broker reports it is no longer authenticated.
func (c *Connection) tickle(ctx context.Context) error {
	raw, err := c.send(ctx, http.MethodPost, c.opts.metadata.ticklePath, nil, nil)
	if err != nil {
		return err
	}
	authenticated := gjson.GetBytes(raw, authenticatedPath)
	if !authenticated.Exists() || authenticated.Bool() {
		return nil
	}
	c.logger.Warn("brokerage session not authenticated, re-initialising")
	return c.initSession(ctx)
}

func (c *Connection) runRenewal(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Config.RenewCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.auth.IsExpiring(c.opts.Config.ExpirySkew) {
				continue
			}
			_, err := c.auth.Renew(ctx, c.auth.Token())
			if ctx.Err() != nil {
				return
			}
			c.metrics.recordRenewal(ctx, err)
			if err == nil {
				c.renewFailures.Store(0)
				continue
			}
			failures := int(c.renewFailures.Add(1))
			c.logger.WithError(err).WithField("consecutive_failures", failures).Warn("background token renewal failed")
			if failures >= c.opts.Config.RenewalFailureLimit {
				c.markLost(err)
				return
			}
		}
	}
}

// markLost drops the session after repeated renewal failures. It runs on a loop
// goroutine, so it only cancels the loop and never waits for it.
func (c *Connection) markLost(cause error) {
	c.loopMu.Lock()
	if c.loopCancel != nil {
		c.loopCancel()
	}
	c.loopMu.Unlock()
	c.auth.Clear()
	c.setState(StateDisconnected)
	c.logger.WithError(errs.New(component, errs.CodeConnection,
		errs.WithMessage("session lost after repeated renewal failures"),
		errs.WithCause(cause))).Error("broker session lost")
}
