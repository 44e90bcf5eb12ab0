package tools

import (
	"fmt"

	"github.com/usestring/trafficlab/internal/bus"
	"github.com/usestring/trafficlab/internal/cache"
	"github.com/usestring/trafficlab/internal/capture"
	"github.com/usestring/trafficlab/internal/certs"
	"github.com/usestring/trafficlab/internal/config"
	"github.com/usestring/trafficlab/internal/indexer"
	"github.com/usestring/trafficlab/internal/replay"
	"github.com/usestring/trafficlab/internal/search"
	"github.com/usestring/trafficlab/pkg/bodyquery"
	"github.com/usestring/trafficlab/pkg/jsoncompact"
	"github.com/usestring/trafficlab/pkg/types"
)

// Deps contains all dependencies needed by tool handlers.
type Deps struct {
	Config    *config.Config
	Captures  *capture.Manager
	Cache     *cache.CaptureCache
	Indexer   *indexer.Indexer
	Search    *search.SearchEngine
	Certs     *certs.Authority
	Replay    *replay.Engine
	BodyQuery *bodyquery.Engine
	Bus       *bus.Bus
}

// FetchEvent returns a captured event by id from the capture store.
func (d *Deps) FetchEvent(eventID string) (*types.TrafficEvent, error) {
	if eventID == "" {
		return nil, ErrInvalidInput("event_id is required")
	}
	if ev, ok := d.Cache.Get(eventID); ok {
		return ev, nil
	}
	if d.Indexer != nil && d.Indexer.GetMetaByEventID(eventID) != nil {
		return nil, &CodedError{
			Code:    ErrCodeNotFound,
			Message: fmt.Sprintf("event %s was evicted from the capture cache; only its summary is indexed", eventID),
		}
	}
	return nil, ErrNotFound("event", eventID)
}

// CompactOptions returns the body trimming limits from the config.
func (d *Deps) CompactOptions() jsoncompact.Options {
	opts := jsoncompact.DefaultOptions()
	if d.Config == nil {
		return opts
	}
	if d.Config.CompactMaxArrayItems > 0 {
		opts.MaxArrayItems = d.Config.CompactMaxArrayItems
	}
	if d.Config.CompactMaxStringLen > 0 {
		opts.MaxStringLen = d.Config.CompactMaxStringLen
	}
	opts.MaxDepth = d.Config.CompactMaxDepth
	return opts
}
