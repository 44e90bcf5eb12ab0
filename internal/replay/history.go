package replay

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/usestring/trafficlab/pkg/types"
)

// history is the bounded replay log. Reads use Peek so the LRU order stays
// the insertion order and the oldest result is evicted first.
type history struct {
	cache *lru.Cache[string, *types.ReplayResult]
}

func newHistory(max int) (*history, error) {
	c, err := lru.New[string, *types.ReplayResult](max)
	if err != nil {
		return nil, err
	}
	return &history{cache: c}, nil
}

func (h *history) add(r *types.ReplayResult) {
	h.cache.Add(r.ID, r)
}

func (h *history) get(id string) (*types.ReplayResult, bool) {
	return h.cache.Peek(id)
}

func (h *history) remove(id string) bool {
	return h.cache.Remove(id)
}

func (h *history) clear() int {
	n := h.cache.Len()
	h.cache.Purge()
	return n
}

// list returns results oldest to newest, keeping only the newest limit when
// limit is positive.
func (h *history) list(limit int) []*types.ReplayResult {
	keys := h.cache.Keys()
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}
	out := make([]*types.ReplayResult, 0, len(keys))
	for _, k := range keys {
		if r, ok := h.cache.Peek(k); ok {
			out = append(out, r)
		}
	}
	return out
}
