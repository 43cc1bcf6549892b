// internal/match/room.go
package match

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// DefaultWords is the corpus used for private lobby credentials.
var DefaultWords = []string{
	"octane", "dominus", "breakout", "fennec", "merc", "hotshot", "venom",
	"takumi", "paladin", "gizmo", "scarab", "backfire", "roadhog", "batmobile",
	"mantis", "twinzer", "endo", "jager", "marauder", "zippy", "aftershock",
	"esper", "imperator", "masamune", "nimbus", "ripper", "samurai", "werewolf",
	"champions", "mannfield", "utopia", "neotokyo", "wasteland", "farmstead",
	"salty", "aquadome", "forbidden", "beckwith", "starbase", "throwback",
	"ceiling", "flip", "reset", "musty", "kickoff", "demo", "boost", "pinch",
	"whiff", "rotation", "shadow", "dribble", "aerial", "redirect", "wavedash",
}

// RoomGenerator produces private lobby names and passwords from a word list.
// It is safe for concurrent use.
type RoomGenerator struct {
	mu    sync.Mutex
	words []string
	rng   *rand.Rand
}

// NewRoomGenerator returns a generator over words. A zero seed seeds from the
// clock; an empty word list falls back to DefaultWords.
func NewRoomGenerator(words []string, seed int64) *RoomGenerator {
	if len(words) == 0 {
		words = DefaultWords
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RoomGenerator{words: words, rng: rand.New(rand.NewSource(seed))}
}

// Generate returns a room name and password.
func (g *RoomGenerator) Generate() (name, pass string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	name = fmt.Sprintf("%s%s%d", g.word(), g.word(), g.rng.Intn(100))
	pass = fmt.Sprintf("%s%03d", g.word(), g.rng.Intn(1000))
	return name, pass
}

func (g *RoomGenerator) word() string {
	return g.words[g.rng.Intn(len(g.words))]
}
