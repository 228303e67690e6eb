package aoi

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
)

// snap absorbs float noise when bounds fall exactly on cell edges.
const snap = 1e-9

// Clip masks r to the area and crops it to the area's bounding box. The crop
// window is rounded outwards to whole cells; inside it, a cell keeps its value
// only when its centre lies inside the area and is otherwise set to the
// raster's nodata value (0 when it has none). The input is not modified.
func (a *Area) Clip(r *domain.Raster) (*domain.Raster, error) {
	if err := r.Validate(); err != nil {
		return nil, domain.DecodeError("clip raster", err)
	}
	gt := r.Meta.Transform
	if !gt.NorthUp() || gt[1] <= 0 || gt[5] >= 0 {
		return nil, domain.ProjectionError("clip raster", errors.New("only north-up rasters can be clipped"))
	}
	if r.Meta.EPSG != 0 && r.Meta.EPSG != 4326 {
		return nil, domain.ProjectionError("clip raster",
			fmt.Errorf("raster crs EPSG:%d does not match area crs EPSG:4326", r.Meta.EPSG))
	}

	col0 := clampInt(floorSnap((a.minX-gt[0])/gt[1]), 0, r.Meta.Width)
	col1 := clampInt(ceilSnap((a.maxX-gt[0])/gt[1]), 0, r.Meta.Width)
	row0 := clampInt(floorSnap((a.maxY-gt[3])/gt[5]), 0, r.Meta.Height)
	row1 := clampInt(ceilSnap((a.minY-gt[3])/gt[5]), 0, r.Meta.Height)
	if col1 <= col0 || row1 <= row0 {
		return nil, domain.ProjectionError("clip raster", errors.New("area does not overlap raster"))
	}

	meta := r.Meta.Clone()
	meta.Width = col1 - col0
	meta.Height = row1 - row0
	meta.Transform[0] = gt[0] + float64(col0)*gt[1]
	meta.Transform[3] = gt[3] + float64(row0)*gt[5]

	fill := 0.0
	if meta.NoData != nil {
		fill = *meta.NoData
	}

	out := domain.NewRaster(meta)
	for row := 0; row < meta.Height; row++ {
		for col := 0; col < meta.Width; col++ {
			x, y := meta.Transform.PixelCenter(row, col)
			inside := a.Contains(x, y)
			for band := 0; band < meta.Bands; band++ {
				v := fill
				if inside {
					v = r.At(band, row0+row, col0+col)
				}
				out.Set(band, row, col, v)
			}
		}
	}
	return out, nil
}

func floorSnap(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < snap {
		return int(r)
	}
	return int(math.Floor(v))
}

func ceilSnap(v float64) int {
	if r := math.Round(v); math.Abs(v-r) < snap {
		return int(r)
	}
	return int(math.Ceil(v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
