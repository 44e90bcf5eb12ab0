package indexer

import (
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/usestring/trafficlab/internal/cache"
	"github.com/usestring/trafficlab/pkg/types"
)

const defaultBodyMaxBytes = 65536

// Options controls what the indexer tokenizes.
type Options struct {
	IndexBody         bool
	IndexBodyMaxBytes int
}

// Indexer maintains in-memory indexes over captured events using Roaring bitmaps.
type Indexer struct {
	mu sync.RWMutex

	idToDoc   map[string]uint32
	docToMeta []*EventMeta
	nextDocID uint32

	// Inverted indexes
	idxHost        map[string]*roaring.Bitmap
	idxMethod      map[string]*roaring.Bitmap
	idxStatus      map[int]*roaring.Bitmap
	idxSession     map[string]*roaring.Bitmap
	idxHeaderName  map[string]*roaring.Bitmap
	idxHeaderValue map[string]*roaring.Bitmap // key format: "header-name:header-value"
	idxWebSocket   *roaring.Bitmap
	idxToken       map[string]*roaring.Bitmap
	idxHeaderToken map[string]*roaring.Bitmap
	idxBodyToken   map[string]*roaring.Bitmap

	cache *cache.CaptureCache
	opts  Options
}

// New creates a new Indexer. The cache, when set, receives every indexed event.
func New(c *cache.CaptureCache, opts Options) *Indexer {
	if opts.IndexBodyMaxBytes <= 0 {
		opts.IndexBodyMaxBytes = defaultBodyMaxBytes
	}
	return &Indexer{
		idToDoc:        make(map[string]uint32),
		docToMeta:      make([]*EventMeta, 0, 1024),
		idxHost:        make(map[string]*roaring.Bitmap),
		idxMethod:      make(map[string]*roaring.Bitmap),
		idxStatus:      make(map[int]*roaring.Bitmap),
		idxSession:     make(map[string]*roaring.Bitmap),
		idxHeaderName:  make(map[string]*roaring.Bitmap),
		idxHeaderValue: make(map[string]*roaring.Bitmap),
		idxWebSocket:   roaring.New(),
		idxToken:       make(map[string]*roaring.Bitmap),
		idxHeaderToken: make(map[string]*roaring.Bitmap),
		idxBodyToken:   make(map[string]*roaring.Bitmap),
		cache:          c,
		opts:           opts,
	}
}

// Record indexes a captured event. It satisfies the capture manager's sink.
func (idx *Indexer) Record(ev *types.TrafficEvent) {
	idx.Index(ev)
}

// Index adds an event to the index and returns its document ID. Events
// already indexed keep their original document ID.
func (idx *Indexer) Index(ev *types.TrafficEvent) uint32 {
	if idx.cache != nil {
		idx.cache.Put(ev)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if docID, exists := idx.idToDoc[ev.ID]; exists {
		return docID
	}

	docID := idx.nextDocID
	idx.nextDocID++

	meta := FromEvent(ev)
	meta.DocID = docID

	idx.idToDoc[ev.ID] = docID
	idx.docToMeta = append(idx.docToMeta, meta)

	if meta.Host != "" {
		addToBitmap(idx.idxHost, meta.Host, docID)
	}
	if meta.Method != "" {
		addToBitmap(idx.idxMethod, meta.Method, docID)
	}
	if meta.Status != 0 {
		addToBitmap(idx.idxStatus, meta.Status, docID)
	}
	if meta.SessionID != "" {
		addToBitmap(idx.idxSession, meta.SessionID, docID)
	}
	if meta.IsWebSocket {
		idx.idxWebSocket.Add(docID)
	}
	for _, header := range meta.HeaderNamesLower {
		addToBitmap(idx.idxHeaderName, header, docID)
	}
	for _, hv := range meta.HeaderValues {
		addToBitmap(idx.idxHeaderValue, hv.Name+":"+hv.Value, docID)
	}

	for _, token := range TokenizeURL(meta.URL) {
		addToBitmap(idx.idxToken, token, docID)
	}
	for _, token := range TokenizeHeaders(meta.HeaderValues) {
		addToBitmap(idx.idxHeaderToken, token, docID)
	}
	if idx.opts.IndexBody {
		for _, token := range TokenizeBody(meta.ReqContentType, []byte(ev.RequestBody), idx.opts.IndexBodyMaxBytes) {
			addToBitmap(idx.idxBodyToken, token, docID)
		}
		for _, token := range TokenizeBody(meta.RespContentType, []byte(ev.ResponseBody), idx.opts.IndexBodyMaxBytes) {
			addToBitmap(idx.idxBodyToken, token, docID)
		}
	}

	return docID
}

// GetMeta retrieves metadata by docID.
func (idx *Indexer) GetMeta(docID uint32) *EventMeta {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if int(docID) >= len(idx.docToMeta) {
		return nil
	}
	return idx.docToMeta[docID]
}

// GetMetaByEventID retrieves metadata by event ID.
func (idx *Indexer) GetMetaByEventID(eventID string) *EventMeta {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	docID, exists := idx.idToDoc[eventID]
	if !exists {
		return nil
	}
	return idx.docToMeta[docID]
}

// AllDocIDs returns a bitmap of all indexed document IDs.
func (idx *Indexer) AllDocIDs() *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	bm := roaring.New()
	bm.AddRange(0, uint64(idx.nextDocID))
	return bm
}

// DocCount returns the number of indexed documents.
func (idx *Indexer) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docToMeta)
}

// GetBitmapForHost returns the bitmap for a host pattern.
// "*.example.com" matches "example.com" and every subdomain.
// Without the prefix, matches exactly.
func (idx *Indexer) GetBitmapForHost(host string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	host = strings.ToLower(host)
	if !strings.HasPrefix(host, "*.") {
		return cloneOrNil(idx.idxHost[host])
	}

	baseDomain := host[2:]
	if baseDomain == "" {
		return nil
	}

	suffix := "." + baseDomain
	result := roaring.New()
	for key, bm := range idx.idxHost {
		if key == baseDomain || strings.HasSuffix(key, suffix) {
			result.Or(bm)
		}
	}
	if result.IsEmpty() {
		return nil
	}
	return result
}

// GetBitmapForMethod returns the bitmap for a specific HTTP method.
func (idx *Indexer) GetBitmapForMethod(method string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneOrNil(idx.idxMethod[strings.ToUpper(method)])
}

// GetBitmapForStatus returns the bitmap for a specific HTTP status code.
func (idx *Indexer) GetBitmapForStatus(status int) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneOrNil(idx.idxStatus[status])
}

// GetBitmapForSession returns the bitmap for a capture session.
func (idx *Indexer) GetBitmapForSession(sessionID string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneOrNil(idx.idxSession[sessionID])
}

// GetBitmapForHeaderName returns the bitmap for a specific header name.
func (idx *Indexer) GetBitmapForHeaderName(name string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneOrNil(idx.idxHeaderName[strings.ToLower(name)])
}

// GetBitmapForHeaderValue returns the bitmap for a specific header name:value pair.
func (idx *Indexer) GetBitmapForHeaderValue(name, value string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneOrNil(idx.idxHeaderValue[strings.ToLower(name)+":"+value])
}

// WebSocketDocs returns the documents of WebSocket upgrades.
func (idx *Indexer) WebSocketDocs() *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.idxWebSocket.Clone()
}

// GetBitmapForToken returns the bitmap for a specific URL token.
func (idx *Indexer) GetBitmapForToken(token string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneOrNil(idx.idxToken[token])
}

// GetBitmapForHeaderToken returns the bitmap for a specific header token.
func (idx *Indexer) GetBitmapForHeaderToken(token string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneOrNil(idx.idxHeaderToken[token])
}

// GetBitmapForBodyToken returns the bitmap for a specific body token.
func (idx *Indexer) GetBitmapForBodyToken(token string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return cloneOrNil(idx.idxBodyToken[token])
}

// BodyIndexEnabled returns whether body indexing is enabled.
func (idx *Indexer) BodyIndexEnabled() bool {
	return idx.opts.IndexBody
}

// Cache returns the event cache, which may be nil.
func (idx *Indexer) Cache() *cache.CaptureCache {
	return idx.cache
}

// addToBitmap adds a docID to a keyed bitmap index.
func addToBitmap[K comparable](index map[K]*roaring.Bitmap, key K, docID uint32) {
	bm, exists := index[key]
	if !exists {
		bm = roaring.New()
		index[key] = bm
	}
	bm.Add(docID)
}

// cloneOrNil copies a bitmap so callers can combine it outside the lock.
func cloneOrNil(bm *roaring.Bitmap) *roaring.Bitmap {
	if bm == nil {
		return nil
	}
	return bm.Clone()
}
