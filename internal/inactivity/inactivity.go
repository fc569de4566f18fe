package inactivity

import (
	"sync"
	"time"
)

// Defaults for the warn-then-close timer pair.
const (
	DefaultSilenceTimeout = 60 * time.Second
	DefaultCloseTimeout   = 30 * time.Second
)

// Controller drives the two chained inactivity timers. After SilenceTimeout
// of no recognized activity it raises a warning; after CloseTimeout more it
// fires the hard reset. Any activity signal restarts the chain from zero.
//
// While paused (conversation locked by another device, or the paired surface
// reporting itself active) neither timer runs. Resuming restarts from zero:
// partial inactivity credit is never carried across a pause.
type Controller struct {
	mu sync.Mutex

	silenceTimeout time.Duration
	closeTimeout   time.Duration

	silenceTimer *time.Timer
	closeTimer   *time.Timer

	onWarning func()
	onReset   func()

	armed    bool
	paused   bool
	warning  bool
	resetRan bool
	stopped  bool
}

// New creates a controller. Non-positive timeouts fall back to the defaults.
// onWarning fires on the silence timer, onReset on the close timer (or an
// explicit ForceReset); onReset runs at most once per armed cycle.
func New(silenceTimeout, closeTimeout time.Duration, onWarning, onReset func()) *Controller {
	if silenceTimeout <= 0 {
		silenceTimeout = DefaultSilenceTimeout
	}
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}
	return &Controller{
		silenceTimeout: silenceTimeout,
		closeTimeout:   closeTimeout,
		onWarning:      onWarning,
		onReset:        onReset,
	}
}

// Activity records a recognized user-activity signal (pointer, key, touch, or
// a programmatic message send) and restarts both timers from zero. It re-arms
// a controller that already fired or was stopped, so the same controller can
// serve consecutive sessions.
func (c *Controller) Activity() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		return
	}

	c.stopped = false
	c.armed = true
	c.warning = false
	c.resetRan = false
	c.restartSilenceLocked()
}

// Pause stops both timers without firing them. Inactivity must not tick for a
// session a human is actively using on another device.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		return
	}
	c.paused = true
	c.cancelTimersLocked()
}

// Resume restarts the chain from zero if the controller was armed.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused {
		return
	}
	c.paused = false
	if c.armed && !c.stopped {
		c.warning = false
		c.resetRan = false
		c.restartSilenceLocked()
	}
}

// ForceReset runs the hard-reset body immediately, subject to the same
// at-most-once guard as the close timer. It returns true when this call
// performed the reset.
func (c *Controller) ForceReset() bool {
	c.mu.Lock()
	if c.resetRan || !c.armed {
		c.mu.Unlock()
		return false
	}
	c.resetRan = true
	c.armed = false
	c.cancelTimersLocked()
	onReset := c.onReset
	c.mu.Unlock()

	if onReset != nil {
		onReset()
	}
	return true
}

// Stop cancels both timers and keeps the controller quiet until the next
// Activity. Called on any terminal session transition so no timer handle
// outlives the session.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.armed = false
	c.paused = false
	c.cancelTimersLocked()
}

// InWarning reports whether the silence timer has fired and the close timer
// is ticking.
func (c *Controller) InWarning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warning
}

func (c *Controller) restartSilenceLocked() {
	c.cancelTimersLocked()
	c.silenceTimer = time.AfterFunc(c.silenceTimeout, c.fireSilence)
}

func (c *Controller) fireSilence() {
	c.mu.Lock()
	if c.stopped || c.paused || !c.armed || c.resetRan {
		c.mu.Unlock()
		return
	}
	c.warning = true
	c.closeTimer = time.AfterFunc(c.closeTimeout, c.fireClose)
	onWarning := c.onWarning
	c.mu.Unlock()

	if onWarning != nil {
		onWarning()
	}
}

func (c *Controller) fireClose() {
	c.mu.Lock()
	if c.stopped || c.paused || !c.armed || c.resetRan {
		c.mu.Unlock()
		return
	}
	c.resetRan = true
	c.armed = false
	c.warning = false
	onReset := c.onReset
	c.mu.Unlock()

	if onReset != nil {
		onReset()
	}
}

func (c *Controller) cancelTimersLocked() {
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
	if c.closeTimer != nil {
		c.closeTimer.Stop()
		c.closeTimer = nil
	}
}
