package utils

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/Pallinder/go-randomdata"
)

var seedOnce sync.Once

// NameGenerator hands out unique display names for players.
type NameGenerator struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func (g *NameGenerator) RandomName() string {
	seedOnce.Do(func() {
		randomdata.CustomRand(rand.New(rand.NewSource(time.Now().UnixNano())))
	})

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used == nil {
		g.used = make(map[string]struct{})
	}
	for attempt := 0; ; attempt++ {
		name := randomdata.SillyName()
		if attempt > 16 {
			name = fmt.Sprintf("%s%d", name, attempt)
		}
		// avoid duplicate names
		if _, exists := g.used[name]; !exists {
			g.used[name] = struct{}{}
			return name
		}
	}
}

// Release makes name available again.
func (g *NameGenerator) Release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.used, name)
}
