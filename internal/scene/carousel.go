package scene

import (
	"sync"

	"kiosk/internal/domain"
	"kiosk/pkg/util"
)

// Defaults are shown when the user has uploaded nothing.
var Defaults = []domain.Background{
	{Data: "builtin://background-1.jpg", IsVR: "false"},
	{Data: "builtin://background-2.jpg", IsVR: "false"},
}

// Carousel cycles through the user's backgrounds followed by the defaults.
type Carousel struct {
	mu       sync.Mutex
	defaults []domain.Background
	scenes   []domain.Background
	index    int
}

func NewCarousel(defaults []domain.Background) *Carousel {
	c := &Carousel{defaults: append([]domain.Background(nil), defaults...)}
	c.scenes = append([]domain.Background(nil), c.defaults...)
	return c
}

// SetUserBackgrounds rebuilds the list. Each user background is put in front
// of the previous ones, so the last uploaded comes first. It reports whether
// the list changed.
func (c *Carousel) SetUserBackgrounds(user []domain.Background) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	scenes := make([]domain.Background, 0, len(user)+len(c.defaults))
	for i := len(user) - 1; i >= 0; i-- {
		scenes = append(scenes, user[i])
	}
	scenes = append(scenes, c.defaults...)
	if util.EqualBy(c.scenes, scenes, func(a, b domain.Background) bool { return a == b }) {
		return false
	}
	c.scenes = scenes

	if len(c.scenes) == 0 || c.index >= len(c.scenes) {
		c.index = 0
	}
	return true
}

// Advance moves to the next scene, wrapping around.
func (c *Carousel) Advance() (int, domain.Background) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.scenes) == 0 {
		return 0, domain.Background{}
	}
	c.index = (c.index + 1) % len(c.scenes)
	return c.index, c.scenes[c.index]
}

func (c *Carousel) Current() (int, domain.Background) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.scenes) == 0 {
		return 0, domain.Background{}
	}
	return c.index, c.scenes[c.index]
}

func (c *Carousel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scenes)
}
