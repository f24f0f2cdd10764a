package config

import (
	"math/rand"
	"time"
)

// rng is seeded once at package init, matching the teacher's credentials.go
// pattern of seeding math/rand from the wall clock for secret generation.
var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

func secureIntn(n int) int {
	return rng.Intn(n)
}
