// Package domain models CHIRPS daily precipitation rasters and the rainy-day
// statistics derived from them.
//
// # Data Source
//
// CHIRPS v2.0 (Climate Hazards Group InfraRed Precipitation with Station
// data) publishes one global GeoTIFF per day, gzip-compressed, under
// https://data.chc.ucsb.edu/products/CHIRPS-2.0/global_daily/tifs/. Two grids
// are available:
//
//	p25  0.25 degree cells (1440 x 400)
//	p05  0.05 degree cells (7200 x 2000)
//
// Both cover latitudes 50S..50N in EPSG:4326 with a single float32 band of
// millimetres per day. Ocean cells carry the nodata value -9999.
//
// # Rainy Days
//
// A cell has a rainy day when its daily value is strictly greater than a small
// threshold ([DefaultRainThreshold], 1e-8 mm). Nodata cells are negative and
// therefore never count. Per (year, month) the counts are summed by
// [Accumulate]; across years the per-month counts are averaged by [Average]
// and rounded with an explicit [RoundingMode].
//
// # Grids
//
// Rasters are combined only when [Metadata.SameGrid] holds: identical band,
// row and column counts, identical EPSG code and a transform equal within
// 1e-9. Anything else is reported as [ErrShapeMismatch] instead of being
// broadcast or truncated.
package domain
