package network

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var phraseAdjectives = []string{
	"amber", "bold", "calm", "deep", "eager", "fair", "gentle", "hidden",
	"ivory", "jade", "keen", "lunar", "mellow", "noble", "olive", "prime",
	"quiet", "rapid", "solar", "tidal", "umber", "vivid", "warm", "young",
}

var phraseNouns = []string{
	"anchor", "beacon", "cedar", "delta", "ember", "falcon", "garnet",
	"harbor", "island", "juniper", "kestrel", "lantern", "meadow", "nectar",
	"orchid", "pebble", "quartz", "river", "summit", "thicket", "valley",
	"willow", "yarrow", "zephyr",
}

// generateRequestPhrase builds a short human-verifiable phrase for a
// key-exchange request. Both parties see the same phrase and can compare it
// out of band before accepting.
func generateRequestPhrase() string {
	adj := phraseAdjectives[randomIndex(len(phraseAdjectives))]
	noun := phraseNouns[randomIndex(len(phraseNouns))]
	return fmt.Sprintf("%s-%s-%02d", adj, noun, randomIndex(100))
}

func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
