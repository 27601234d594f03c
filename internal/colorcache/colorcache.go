// Package colorcache assigns each project a stable terminal color for the
// lifetime of a run, so interleaved output from concurrent tasks in
// internal/pipeline stays visually distinguishable by project.
package colorcache

import (
	"sync"

	"github.com/fatih/color"

	"github.com/stratum-build/stratum/internal/util"
)

type colorFn = func(format string, a ...interface{}) string

func paletteColors() []colorFn {
	return []colorFn{color.CyanString, color.MagentaString, color.GreenString, color.YellowString, color.BlueString}
}

// ColorCache hands out one of a fixed palette's colors per project id, the
// first time that id is seen, and remembers the assignment for every call
// after.
type ColorCache struct {
	mu      sync.Mutex
	next    int
	palette []colorFn
	byKey   map[string]colorFn
}

// New returns a ColorCache with an empty assignment table.
func New() *ColorCache {
	return &ColorCache{
		palette: paletteColors(),
		byKey:   make(map[string]colorFn),
	}
}

func (c *ColorCache) assign(key string) colorFn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn, ok := c.byKey[key]; ok {
		return fn
	}
	fn := c.palette[util.PositiveMod(c.next, len(c.palette))]
	c.next++
	c.byKey[key] = fn
	return fn
}

// PrefixWithColor returns prefix formatted with the color assigned to key,
// followed by ": " — the shape internal/cli's run summary prints ahead of
// each task's interleaved output.
func (c *ColorCache) PrefixWithColor(key string, prefix string) string {
	return c.assign(key)("%s: ", prefix)
}
