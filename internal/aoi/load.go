package aoi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
)

const lonLat = "+proj=longlat +datum=WGS84 +no_defs"

// Load reads an area from an ESRI shapefile (.shp) or a GeoJSON file
// (.geojson, .json). All polygonal features are merged into one area.
func Load(path string) (*Area, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path)
	case ".geojson", ".json":
		return LoadGeoJSON(path)
	default:
		return nil, domain.ConfigError("load area", fmt.Errorf("unsupported area file %q (want .shp or .geojson)", path))
	}
}

// LoadShapefile reads every polygon in the shapefile. When a .prj sidecar is
// present the geometry is reprojected to lon/lat.
func LoadShapefile(path string) (*Area, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, domain.IOError("open shapefile", err)
	}
	defer dec.Close()

	var transform proj.Transformer
	if _, err := os.Stat(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"); err == nil {
		src, err := dec.SR()
		if err != nil {
			return nil, domain.ProjectionError("read shapefile projection", err)
		}
		dst, err := proj.Parse(lonLat)
		if err != nil {
			return nil, domain.ProjectionError("parse lon/lat projection", err)
		}
		if transform, err = src.NewTransform(dst); err != nil {
			return nil, domain.ProjectionError("build shapefile transform", err)
		}
	}

	var polys []geom.Polygon
	for {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		if g == nil {
			continue
		}
		if transform != nil {
			if g, err = g.Transform(transform); err != nil {
				return nil, domain.ProjectionError("reproject shapefile", err)
			}
		}
		p, err := polygonsOf(g)
		if err != nil {
			return nil, domain.ProjectionError("read shapefile", err)
		}
		polys = append(polys, p...)
	}
	if err := dec.Error(); err != nil {
		return nil, domain.DecodeError("read shapefile", err)
	}
	return fromPolygons(polys)
}

type geoJSONObject struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
	Geometry    *geoJSONObject  `json:"geometry,omitempty"`
	Features    []geoJSONObject `json:"features,omitempty"`
	Geometries  []geoJSONObject `json:"geometries,omitempty"`
	Properties  map[string]any  `json:"properties,omitempty"`
}

// LoadGeoJSON reads a Polygon, MultiPolygon, Feature, FeatureCollection or
// GeometryCollection in lon/lat.
func LoadGeoJSON(path string) (*Area, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.IOError("read geojson", err)
	}
	return ParseGeoJSON(data)
}

// ParseGeoJSON is LoadGeoJSON for an in-memory document.
func ParseGeoJSON(data []byte) (*Area, error) {
	var obj geoJSONObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, domain.DecodeError("parse geojson", err)
	}
	polys, err := collectPolygons(obj)
	if err != nil {
		return nil, domain.ProjectionError("parse geojson", err)
	}
	return fromPolygons(polys)
}

func collectPolygons(obj geoJSONObject) ([]geom.Polygon, error) {
	switch obj.Type {
	case "FeatureCollection":
		var out []geom.Polygon
		for _, f := range obj.Features {
			p, err := collectPolygons(f)
			if err != nil {
				return nil, err
			}
			out = append(out, p...)
		}
		return out, nil
	case "GeometryCollection":
		var out []geom.Polygon
		for _, g := range obj.Geometries {
			p, err := collectPolygons(g)
			if err != nil {
				return nil, err
			}
			out = append(out, p...)
		}
		return out, nil
	case "Feature":
		if obj.Geometry == nil {
			return nil, nil
		}
		return collectPolygons(*obj.Geometry)
	case "Polygon":
		var rings [][][2]float64
		if err := json.Unmarshal(obj.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("polygon coordinates: %w", err)
		}
		return []geom.Polygon{toPolygon(rings)}, nil
	case "MultiPolygon":
		var polys [][][][2]float64
		if err := json.Unmarshal(obj.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("multipolygon coordinates: %w", err)
		}
		out := make([]geom.Polygon, 0, len(polys))
		for _, rings := range polys {
			out = append(out, toPolygon(rings))
		}
		return out, nil
	case "":
		return nil, errors.New("missing geojson type")
	default:
		return nil, fmt.Errorf("geojson %s is not polygonal", obj.Type)
	}
}

func toPolygon(rings [][][2]float64) geom.Polygon {
	p := make(geom.Polygon, 0, len(rings))
	for _, ring := range rings {
		path := make(geom.Path, 0, len(ring))
		for _, c := range ring {
			path = append(path, geom.Point{X: c[0], Y: c[1]})
		}
		p = append(p, path)
	}
	return p
}

// GeoJSON encodes the area as a MultiPolygon geometry.
func (a *Area) GeoJSON() ([]byte, error) {
	coords := make([][][][2]float64, 0, len(a.polygons))
	for _, p := range a.polygons {
		rings := make([][][2]float64, 0, len(p))
		for _, ring := range p {
			pts := make([][2]float64, 0, len(ring))
			for _, pt := range ring {
				pts = append(pts, [2]float64{pt.X, pt.Y})
			}
			rings = append(rings, pts)
		}
		coords = append(coords, rings)
	}
	return json.Marshal(struct {
		Type        string           `json:"type"`
		Coordinates [][][][2]float64 `json:"coordinates"`
	}{"MultiPolygon", coords})
}
