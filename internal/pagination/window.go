// Package pagination bounds how much of a conversation is mounted in
// the UI. The full history is split into a visible window (rendered)
// and a reserve of older messages (persisted but not mounted); scrolling
// near the top pulls one page at a time from the reserve through a
// hysteresis latch so a jittery scroll position cannot fire twice.
package pagination

import (
	"sync"

	"github.com/haemilhq/haemilchat/pkg/models"
)

// Config carries the window parameters. Offsets and thresholds are in
// the rendering layer's units (px).
type Config struct {
	PageSize            int     `json:"page_size"`             // messages per reserve page (default: 10)
	TopTriggerOffset    float64 `json:"top_trigger_offset"`    // at or below this, load older (default: 8)
	TopResetOffset      float64 `json:"top_reset_offset"`      // above this, the latch re-arms (default: 120)
	NearBottomThreshold float64 `json:"near_bottom_threshold"` // within this of the bottom, follow new messages (default: 80)
}

func DefaultConfig() Config {
	return Config{
		PageSize:            10,
		TopTriggerOffset:    8,
		TopResetOffset:      120,
		NearBottomThreshold: 80,
	}
}

// Controller owns the visible/reserve split for one conversation.
type Controller struct {
	mu           sync.Mutex
	cfg          Config
	reserve      []models.Message // oldest first
	visible      []models.Message
	ids          map[string]struct{}
	canLoadOlder bool
}

func NewController(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.TopTriggerOffset <= 0 {
		cfg.TopTriggerOffset = def.TopTriggerOffset
	}
	if cfg.TopResetOffset <= 0 {
		cfg.TopResetOffset = def.TopResetOffset
	}
	if cfg.NearBottomThreshold <= 0 {
		cfg.NearBottomThreshold = def.NearBottomThreshold
	}
	return &Controller{cfg: cfg, ids: make(map[string]struct{}), canLoadOlder: true}
}

// Load seeds the controller from restored history (ascending by time).
// The most recent page becomes visible; everything older is reserve.
func (c *Controller) Load(history []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids = make(map[string]struct{}, len(history))
	deduped := make([]models.Message, 0, len(history))
	for _, m := range history {
		if _, ok := c.ids[m.ID]; ok {
			continue
		}
		c.ids[m.ID] = struct{}{}
		deduped = append(deduped, m)
	}

	split := len(deduped) - c.cfg.PageSize
	if split < 0 {
		split = 0
	}
	c.reserve = append([]models.Message(nil), deduped[:split]...)
	c.visible = append([]models.Message(nil), deduped[split:]...)
	c.canLoadOlder = true
}

// Append adds a newly arrived message to the tail of the visible
// window. Duplicate ids anywhere in the history are a no-op.
func (c *Controller) Append(m models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ids[m.ID]; ok {
		return false
	}
	c.ids[m.ID] = struct{}{}
	c.visible = append(c.visible, m)
	return true
}

// UpdateStatus mirrors a delivery-status transition into the window so
// the rendered copy matches the store.
func (c *Controller) UpdateStatus(id string, status models.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.visible {
		if c.visible[i].ID == id {
			c.visible[i].Status = status
			return
		}
	}
	for i := range c.reserve {
		if c.reserve[i].ID == id {
			c.reserve[i].Status = status
			return
		}
	}
}

// HandleScroll feeds the observed distance from the top of the content.
// At or below the trigger offset, with the latch armed, one page moves
// from the reserve into the front of the visible window and the latch
// drops; the latch re-arms only once the offset climbs past the reset
// offset. Returns how many messages were prepended.
func (c *Controller) HandleScroll(topOffset float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if topOffset > c.cfg.TopResetOffset {
		c.canLoadOlder = true
		return 0
	}
	if topOffset > c.cfg.TopTriggerOffset || !c.canLoadOlder {
		return 0
	}
	if len(c.reserve) == 0 {
		// Nothing to load; the latch stays armed for when there is.
		return 0
	}

	c.canLoadOlder = false
	n := c.cfg.PageSize
	if n > len(c.reserve) {
		n = len(c.reserve)
	}
	page := c.reserve[len(c.reserve)-n:]
	c.reserve = c.reserve[:len(c.reserve)-n]
	c.visible = append(append([]models.Message(nil), page...), c.visible...)
	return n
}

// AdjustedOffset preserves the perceived scroll position across a
// prepend: the offset shifts by exactly the content-height delta the
// new rows introduced.
func (c *Controller) AdjustedOffset(oldOffset, oldContentHeight, newContentHeight float64) float64 {
	return oldOffset + (newContentHeight - oldContentHeight)
}

// ShouldFollowBottom decides whether a size change (new message) should
// auto-scroll: only when the user was already near the bottom. Reading
// history further up must not have the view yanked away.
func (c *Controller) ShouldFollowBottom(distanceFromBottom float64) bool {
	return distanceFromBottom <= c.cfg.NearBottomThreshold
}

// Visible returns a copy of the rendered window, oldest first.
func (c *Controller) Visible() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.visible...)
}

// ReserveLen reports how many older messages remain unmounted.
func (c *Controller) ReserveLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reserve)
}

// CanLoadOlder reports the latch state.
func (c *Controller) CanLoadOlder() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canLoadOlder
}

// History returns reserve ++ visible, the full ascending list that gets
// persisted.
func (c *Controller) History() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, 0, len(c.reserve)+len(c.visible))
	out = append(out, c.reserve...)
	out = append(out, c.visible...)
	return out
}
