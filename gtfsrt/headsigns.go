package gtfsrt

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openmobility/transithub/gtfs"
)

const DefaultHeadsignCacheSize = 4096

// HeadsignCache resolves trip ids from a realtime feed to display
// headsigns using the static bundle. National feeds carry far more
// trips than a provider monitors, so resolutions are kept in a
// bounded LRU instead of materializing the full trip table. Entries
// are tied to the feed snapshot they were resolved against; a bundle
// reload purges them.
type HeadsignCache struct {
	mu       sync.Mutex
	feedHash string
	cache    *lru.Cache[string, string]
}

func NewHeadsignCache(size int) (*HeadsignCache, error) {
	if size <= 0 {
		size = DefaultHeadsignCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &HeadsignCache{cache: cache}, nil
}

// Resolve returns the headsign for a trip: the static trip_headsign
// when set, else the name of the trip's last stop, else "" for trips
// unknown to the static bundle.
func (h *HeadsignCache) Resolve(feed *gtfs.Feed, tripID string) string {
	h.mu.Lock()
	if h.feedHash != feed.Hash {
		h.feedHash = feed.Hash
		h.cache.Purge()
	}
	h.mu.Unlock()

	if headsign, ok := h.cache.Get(tripID); ok {
		return headsign
	}

	headsign := ""
	if trip, ok := feed.Trip(tripID); ok {
		headsign = trip.Headsign
		if headsign == "" {
			sts := feed.StopTimesByTrip(tripID)
			if len(sts) > 0 {
				if stop, ok := feed.Stop(sts[len(sts)-1].StopID); ok {
					headsign = stop.Name
				}
			}
		}
		h.cache.Add(tripID, headsign)
	}

	return headsign
}

func (h *HeadsignCache) Len() int {
	return h.cache.Len()
}
