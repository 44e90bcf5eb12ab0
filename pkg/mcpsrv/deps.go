package mcpsrv

import (
	"github.com/usestring/trafficlab/internal/bus"
	"github.com/usestring/trafficlab/internal/cache"
	"github.com/usestring/trafficlab/internal/capture"
	"github.com/usestring/trafficlab/internal/certs"
	"github.com/usestring/trafficlab/internal/config"
	"github.com/usestring/trafficlab/internal/indexer"
	"github.com/usestring/trafficlab/internal/metrics"
	"github.com/usestring/trafficlab/internal/replay"
	"github.com/usestring/trafficlab/internal/search"
	"github.com/usestring/trafficlab/pkg/bodyquery"
)

// Deps contains all dependencies available to custom tools.
// This gives custom tools access to the same infrastructure as builtin tools.
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
	Metrics   *metrics.Metrics
}
