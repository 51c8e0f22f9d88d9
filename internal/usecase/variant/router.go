package variant

import (
	"hash/fnv"
	"math/rand/v2"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// Names of the generation variants.
const (
	Control    = domain.VariantControl
	Challenger = domain.VariantChallenger
)

// Router splits traffic between control and challenger.
type Router struct {
	weight uint32
	model  string
	draw   func() uint32
}

// New creates a Router sending weight percent of users to the challenger model.
func New(weight int, challengerModel string) *Router {
	if weight < 0 {
		weight = 0
	}
	if weight > 100 {
		weight = 100
	}
	return &Router{
		weight: uint32(weight),
		model:  challengerModel,
		draw:   func() uint32 { return rand.Uint32N(100) },
	}
}

// Pick returns the variant for a user. Known users always land in the same
// bucket; anonymous requests are assigned at random.
func (r *Router) Pick(userID string) domain.Variant {
	if r.weight == 0 || r.model == "" {
		return domain.Variant{Name: Control}
	}
	var bucket uint32
	if userID == "" {
		bucket = r.draw()
	} else {
		h := fnv.New32a()
		_, _ = h.Write([]byte(userID))
		bucket = h.Sum32() % 100
	}
	if bucket < r.weight {
		return domain.Variant{Name: Challenger, Model: r.model}
	}
	return domain.Variant{Name: Control}
}
