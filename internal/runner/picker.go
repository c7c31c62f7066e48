package runner

import (
	"math/rand"

	"github.com/samber/lo"
)

// picker chooses URLs for a single worker. It is not shared between workers.
type picker struct {
	urls []string
	mode PickMode
	idx  int
	rng  *rand.Rand
}

// newPicker spreads sequential workers over the list by starting at offset.
func newPicker(urls []string, mode PickMode, offset int, rng *rand.Rand) *picker {
	return &picker{
		urls: urls,
		mode: mode,
		idx:  offset % len(urls),
		rng:  rng,
	}
}

func (p *picker) first() string {
	if p.mode == PickSequential {
		return p.urls[p.idx]
	}
	return p.urls[p.rng.Intn(len(p.urls))]
}

// next returns a URL other than current, unless there is only one.
func (p *picker) next(current string) string {
	if len(p.urls) == 1 {
		return p.urls[0]
	}
	if p.mode == PickSequential {
		p.idx = (lo.IndexOf(p.urls, current) + 1) % len(p.urls)
		return p.urls[p.idx]
	}
	others := lo.Without(p.urls, current)
	return others[p.rng.Intn(len(others))]
}
