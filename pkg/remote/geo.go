package remote

import "fmt"

// Earth radius used to convert distances into radians for geo queries.
const (
	EarthRadiusMiles      = 3958.8
	EarthRadiusKilometers = 6371.0
)

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// NewGeoPoint validates the coordinates and returns a point.
// Latitude must be within [-90, 90] and longitude within [-180, 180].
func NewGeoPoint(lat, lng float64) (GeoPoint, error) {
	if lat < -90 || lat > 90 {
		return GeoPoint{}, invalidValuef("latitude %v out of range [-90, 90]", lat)
	}
	if lng < -180 || lng > 180 {
		return GeoPoint{}, invalidValuef("longitude %v out of range [-180, 180]", lng)
	}
	return GeoPoint{Latitude: lat, Longitude: lng}, nil
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%g, %g)", p.Latitude, p.Longitude)
}

func (p GeoPoint) encode() map[string]any {
	return map[string]any{
		"__type":    "GeoPoint",
		"latitude":  p.Latitude,
		"longitude": p.Longitude,
	}
}

// Polygon is a closed shape of at least three points.
type Polygon struct {
	Points []GeoPoint
}

// NewPolygon returns a polygon over points. Fewer than three points is an
// error; collinear points are accepted.
func NewPolygon(points []GeoPoint) (Polygon, error) {
	if len(points) < 3 {
		return Polygon{}, invalidValuef("polygon needs at least 3 points, got %d", len(points))
	}
	for _, p := range points {
		if _, err := NewGeoPoint(p.Latitude, p.Longitude); err != nil {
			return Polygon{}, err
		}
	}
	cp := make([]GeoPoint, len(points))
	copy(cp, points)
	return Polygon{Points: cp}, nil
}

func (p Polygon) encode() map[string]any {
	coords := make([]any, len(p.Points))
	for i, pt := range p.Points {
		coords[i] = []any{pt.Latitude, pt.Longitude}
	}
	return map[string]any{
		"__type":      "Polygon",
		"coordinates": coords,
	}
}

func decodePolygon(raw any) (Polygon, error) {
	list, ok := raw.([]any)
	if !ok {
		return Polygon{}, invalidValuef("polygon coordinates must be a list")
	}
	points := make([]GeoPoint, 0, len(list))
	for _, entry := range list {
		pair, ok := entry.([]any)
		if !ok || len(pair) != 2 {
			return Polygon{}, invalidValuef("polygon coordinate must be a [lat, lng] pair")
		}
		lat, ok1 := toFloat(pair[0])
		lng, ok2 := toFloat(pair[1])
		if !ok1 || !ok2 {
			return Polygon{}, invalidValuef("polygon coordinate must be numeric")
		}
		points = append(points, GeoPoint{Latitude: lat, Longitude: lng})
	}
	return NewPolygon(points)
}
