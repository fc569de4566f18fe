package inactivity

import (
	"sync/atomic"
	"testing"
	"time"
)

// Timings are compressed so each subtest settles in well under a second.
const (
	silence = 40 * time.Millisecond
	closeTO = 30 * time.Millisecond
	step    = 10 * time.Millisecond
)

func TestController(t *testing.T) {
	t.Run("warning then reset after full silence", func(t *testing.T) {
		var warnings, resets atomic.Int32
		c := New(silence, closeTO,
			func() { warnings.Add(1) },
			func() { resets.Add(1) })
		defer c.Stop()

		c.Activity()
		time.Sleep(silence + closeTO + 4*step)

		if warnings.Load() != 1 {
			t.Errorf("Expected 1 warning, got %d", warnings.Load())
		}
		if resets.Load() != 1 {
			t.Errorf("Expected 1 reset, got %d", resets.Load())
		}
	})

	t.Run("activity within the window cancels the warning", func(t *testing.T) {
		var warnings atomic.Int32
		c := New(silence, closeTO, func() { warnings.Add(1) }, nil)
		defer c.Stop()

		c.Activity()
		time.Sleep(silence / 2)
		c.Activity()
		time.Sleep(silence / 2)
		c.Activity()
		time.Sleep(silence / 2)

		if warnings.Load() != 0 {
			t.Errorf("Expected no warning while active, got %d", warnings.Load())
		}
	})

	t.Run("activity during warning re-arms from zero", func(t *testing.T) {
		var resets atomic.Int32
		c := New(silence, closeTO, nil, func() { resets.Add(1) })
		defer c.Stop()

		c.Activity()
		time.Sleep(silence + step) // into warning
		c.Activity()               // user came back
		time.Sleep(closeTO + step) // old close timer must not fire

		if resets.Load() != 0 {
			t.Errorf("Expected close timer cancelled, got %d resets", resets.Load())
		}
		if c.InWarning() {
			t.Error("Expected warning cleared by activity")
		}
	})

	t.Run("reset fires exactly once even with concurrent explicit close", func(t *testing.T) {
		var resets atomic.Int32
		c := New(silence, closeTO, nil, func() { resets.Add(1) })
		defer c.Stop()

		c.Activity()
		time.Sleep(silence + step)

		// Explicit close races the close timer.
		go c.ForceReset()
		time.Sleep(closeTO + 4*step)

		if resets.Load() != 1 {
			t.Errorf("Expected exactly 1 reset, got %d", resets.Load())
		}
	})

	t.Run("pause holds both timers", func(t *testing.T) {
		var warnings, resets atomic.Int32
		c := New(silence, closeTO,
			func() { warnings.Add(1) },
			func() { resets.Add(1) })
		defer c.Stop()

		c.Activity()
		c.Pause()
		time.Sleep(silence + closeTO + 2*step)

		if warnings.Load() != 0 || resets.Load() != 0 {
			t.Errorf("Expected no firings while paused, got %d warnings %d resets",
				warnings.Load(), resets.Load())
		}

		// Resume restarts from zero, not from where the pause left off.
		c.Resume()
		time.Sleep(silence / 2)
		if warnings.Load() != 0 {
			t.Error("Expected fresh window after resume")
		}
		time.Sleep(silence)
		if warnings.Load() != 1 {
			t.Errorf("Expected warning after a full fresh window, got %d", warnings.Load())
		}
	})

	t.Run("stop cancels everything", func(t *testing.T) {
		var resets atomic.Int32
		c := New(silence, closeTO, nil, func() { resets.Add(1) })

		c.Activity()
		c.Stop()
		time.Sleep(silence + closeTO + 2*step)

		if resets.Load() != 0 {
			t.Errorf("Expected no reset after Stop, got %d", resets.Load())
		}
		if c.ForceReset() {
			t.Error("Expected ForceReset to be a no-op after Stop")
		}
	})

	t.Run("unarmed controller does not force-reset", func(t *testing.T) {
		c := New(silence, closeTO, nil, nil)
		defer c.Stop()
		if c.ForceReset() {
			t.Error("Expected ForceReset to require an armed controller")
		}
	})

	t.Run("activity re-arms a stopped controller", func(t *testing.T) {
		var warnings atomic.Int32
		c := New(silence, closeTO, func() { warnings.Add(1) }, nil)
		defer c.Stop()

		c.Activity()
		c.Stop()
		c.Activity() // next session on the same controller
		time.Sleep(silence + step)

		if warnings.Load() != 1 {
			t.Errorf("Expected warning after re-arm, got %d", warnings.Load())
		}
	})
}
