package domain

import "time"

// Acquisition path names.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// ArtifactEvent announces a published monthly-average raster.
type ArtifactEvent struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Month      int       `json:"month"`
	YearMin    int       `json:"year_min"`
	YearMax    int       `json:"year_max"`
	Resolution string    `json:"resolution"`
	AreaID     string    `json:"area_id"`
	Path       string    `json:"path"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	ProducedAt time.Time `json:"produced_at"`
}

// NewArtifactEvent stamps an event with the package clock.
func NewArtifactEvent(runID, source string, month int, years YearSpan, resolution, areaID, path string, meta Metadata) ArtifactEvent {
	return ArtifactEvent{
		RunID:      runID,
		Source:     source,
		Month:      month,
		YearMin:    years.Min,
		YearMax:    years.Max,
		Resolution: resolution,
		AreaID:     areaID,
		Path:       path,
		Width:      meta.Width,
		Height:     meta.Height,
		ProducedAt: clock.Now().UTC(),
	}
}
