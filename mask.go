/*
Copyright © 2018 the gridsubset authors.
This file is part of gridsubset.

gridsubset is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gridsubset is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gridsubset.  If not, see <http://www.gnu.org/licenses/>.
*/

package gridsubset

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ctessum/requestcache"
)

// DefaultMaskCacheEntries is the default number of masks kept in memory.
const DefaultMaskCacheEntries = 256

// MaskCache memoizes the set of grid cells that fall outside of a
// region. Concurrent requests for the same mask share one computation
// and the most recently used masks are kept in memory. A MaskCache is
// safe for concurrent use.
type MaskCache struct {
	cache *requestcache.Cache
}

// NewMaskCache returns a MaskCache holding at most maxEntries masks.
func NewMaskCache(maxEntries int) *MaskCache {
	if maxEntries < 1 {
		maxEntries = DefaultMaskCacheEntries
	}
	return &MaskCache{
		cache: requestcache.NewCache(computeMask, runtime.GOMAXPROCS(-1),
			requestcache.Deduplicate(), requestcache.Memory(maxEntries)),
	}
}

type maskRequest struct {
	grid   *Grid
	region *RegionDefinition
}

// CellsToExclude returns the cells of g that are not within region.
// A nil region (as for bounding box and point selectors) excludes no
// cells. The returned set is shared and must not be modified.
func (m *MaskCache) CellsToExclude(ctx context.Context, g *Grid, region *RegionDefinition) (CellSet, error) {
	if region == nil {
		return CellSet{}, nil
	}
	if !region.Supports(g) {
		return nil, Errorf(ExtractionError,
			"region %s has no geometry and was precomputed for grid %q, not %q",
			region.ID, region.Grid, g.Parent)
	}
	key := fmt.Sprintf("%s_%s", g.Key(), region.ID)
	r := m.cache.NewRequest(ctx, maskRequest{grid: g, region: region}, key)
	result, err := r.Result()
	if err != nil {
		return nil, err
	}
	return result.(CellSet), nil
}

// computations returns the number of masks that have been computed
// rather than retrieved from the cache.
func (m *MaskCache) computations() int {
	r := m.cache.Requests()
	return r[len(r)-1]
}

func computeMask(ctx context.Context, request interface{}) (interface{}, error) {
	req := request.(maskRequest)
	excluded := make(CellSet)
	for _, c := range req.grid.Cells() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !req.region.Contains(req.grid, c) {
			excluded.Add(c)
		}
	}
	return excluded, nil
}
