// Package aoi loads the area of interest and clips rasters to it.
package aoi

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/ctessum/geom"
)

// Area is an immutable polygonal footprint in lon/lat (EPSG:4326).
type Area struct {
	polygons []geom.Polygon
	minX     float64
	minY     float64
	maxX     float64
	maxY     float64
	id       string
}

// New validates g and builds an Area from it. Only polygons and multipolygons
// are accepted; every ring needs at least three distinct vertices.
func New(g geom.Geom) (*Area, error) {
	polys, err := polygonsOf(g)
	if err != nil {
		return nil, domain.ProjectionError("build area", err)
	}
	return fromPolygons(polys)
}

func polygonsOf(g geom.Geom) ([]geom.Polygon, error) {
	switch v := g.(type) {
	case geom.Polygon:
		return []geom.Polygon{v}, nil
	case geom.MultiPolygon:
		return []geom.Polygon(v), nil
	case nil:
		return nil, errors.New("empty geometry")
	default:
		return nil, fmt.Errorf("geometry %T is not polygonal", g)
	}
}

func fromPolygons(polys []geom.Polygon) (*Area, error) {
	a := &Area{
		minX: math.Inf(1), minY: math.Inf(1),
		maxX: math.Inf(-1), maxY: math.Inf(-1),
	}
	for _, p := range polys {
		if len(p) == 0 {
			continue
		}
		for _, ring := range p {
			if len(openRing(ring)) < 3 {
				return nil, domain.ProjectionError("build area", errors.New("ring with fewer than three vertices"))
			}
			for _, pt := range ring {
				if math.IsNaN(pt.X) || math.IsNaN(pt.Y) || math.IsInf(pt.X, 0) || math.IsInf(pt.Y, 0) {
					return nil, domain.ProjectionError("build area", errors.New("non-finite coordinate"))
				}
				a.minX = math.Min(a.minX, pt.X)
				a.minY = math.Min(a.minY, pt.Y)
				a.maxX = math.Max(a.maxX, pt.X)
				a.maxY = math.Max(a.maxY, pt.Y)
			}
		}
		a.polygons = append(a.polygons, p)
	}
	if len(a.polygons) == 0 {
		return nil, domain.ProjectionError("build area", errors.New("no polygons"))
	}
	a.id = fingerprint(a.polygons)
	return a, nil
}

// openRing drops the closing vertex when it repeats the first one.
func openRing(ring geom.Path) geom.Path {
	if n := len(ring); n > 1 && ring[0] == ring[n-1] {
		return ring[:n-1]
	}
	return ring
}

// fingerprint hashes every coordinate so two areas share an ID only when
// their geometry is identical.
func fingerprint(polys []geom.Polygon) string {
	h := sha256.New()
	var buf [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, p := range polys {
		put(float64(len(p)))
		for _, ring := range p {
			put(float64(len(ring)))
			for _, pt := range ring {
				put(pt.X)
				put(pt.Y)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// ID is a short content hash of the geometry, used in cache keys so clips made
// for one area are never reused for another.
func (a *Area) ID() string { return a.id }

// Bounds returns the bounding box as minX, minY, maxX, maxY.
func (a *Area) Bounds() (minX, minY, maxX, maxY float64) {
	return a.minX, a.minY, a.maxX, a.maxY
}

// Contains reports whether (x, y) lies inside the area using the even-odd
// rule, so holes are excluded.
func (a *Area) Contains(x, y float64) bool {
	if x < a.minX || x > a.maxX || y < a.minY || y > a.maxY {
		return false
	}
	for _, p := range a.polygons {
		inside := false
		for _, ring := range p {
			if crossesOdd(openRing(ring), x, y) {
				inside = !inside
			}
		}
		if inside {
			return true
		}
	}
	return false
}

func crossesOdd(ring geom.Path, x, y float64) bool {
	odd := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if (pi.Y > y) != (pj.Y > y) &&
			x < (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			odd = !odd
		}
	}
	return odd
}
