package fleetrt

import "math"

const earthRadiusKm = 6371

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// HaversineKm is the great circle distance between two points, in
// kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda

	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
