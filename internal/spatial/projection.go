package spatial

import (
	"math"

	"github.com/paulmach/orb"
)

// TileSize is the pixel size of one web-mercator tile at zoom 0
const TileSize = 512

// LngX projects a longitude into [0, 1] web-mercator space
func LngX(lng float64) float64 {
	return lng/360 + 0.5
}

// LatY projects a latitude into [0, 1] web-mercator space, clamped at the poles
func LatY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return y
}

// XLng converts a projected x back to longitude
func XLng(x float64) float64 {
	return (x - 0.5) * 360
}

// YLat converts a projected y back to latitude
func YLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}

// Viewport describes what part of the map is on screen
type Viewport struct {
	Center orb.Point `json:"center"` // lng, lat
	Zoom   float64   `json:"zoom"`
	Width  int       `json:"width"`  // Pixels
	Height int       `json:"height"` // Pixels
}

// Bound returns the geographic bound covered by the viewport. Longitudes may
// fall outside [-180, 180] when the viewport crosses the antimeridian.
func (v Viewport) Bound() orb.Bound {
	worldSize := TileSize * math.Pow(2, v.Zoom)
	cx := LngX(v.Center.Lon()) * worldSize
	cy := LatY(v.Center.Lat()) * worldSize
	halfW := float64(v.Width) / 2
	halfH := float64(v.Height) / 2

	minY := clamp01((cy - halfH) / worldSize)
	maxY := clamp01((cy + halfH) / worldSize)

	return orb.Bound{
		Min: orb.Point{XLng((cx - halfW) / worldSize), YLat(maxY)},
		Max: orb.Point{XLng((cx + halfW) / worldSize), YLat(minY)},
	}
}

// ZoomLevel returns the integer zoom the clustering source renders at
func (v Viewport) ZoomLevel() int {
	return int(math.Floor(v.Zoom))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
