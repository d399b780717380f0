package feed

import "github.com/paulmach/orb"

// assembleRings connects way geometries into closed rings.
// Only fully closed rings with at least four points are returned.
func assembleRings(ways []orb.LineString) []orb.Ring {
	if len(ways) == 0 {
		return nil
	}

	// If single way and already closed, return it directly
	if len(ways) == 1 {
		if closedRing(ways[0]) {
			return []orb.Ring{orb.Ring(ways[0])}
		}
		return nil
	}

	var rings []orb.Ring
	used := make([]bool, len(ways))

	for start := range ways {
		if used[start] {
			continue
		}
		used[start] = true
		ring := append(orb.LineString(nil), ways[start]...)

		// Keep connecting until the ring is closed or nothing fits
		for !closedRing(ring) {
			end := ring[len(ring)-1]
			found := false

			for i, w := range ways {
				if used[i] || len(w) < 2 {
					continue
				}

				if w[0] == end {
					ring = append(ring, w[1:]...)
					used[i] = true
					found = true
					break
				}

				if w[len(w)-1] == end {
					for j := len(w) - 2; j >= 0; j-- {
						ring = append(ring, w[j])
					}
					used[i] = true
					found = true
					break
				}
			}

			if !found {
				break
			}
		}

		if closedRing(ring) {
			rings = append(rings, orb.Ring(ring))
		}
	}

	return rings
}

func closedRing(ls orb.LineString) bool {
	return len(ls) >= 4 && ls[0] == ls[len(ls)-1]
}

// isArea checks if a closed way should be treated as a polygon
func isArea(tags map[string]string) bool {
	if v, ok := tags["area"]; ok {
		return v == "yes"
	}
	for _, key := range areaKeys {
		if _, ok := tags[key]; ok {
			return true
		}
	}
	return false
}

var areaKeys = []string{
	"building", "landuse", "natural", "leisure", "amenity",
	"shop", "tourism", "man_made", "place",
}

// isMultipolygon checks if relation tags describe a multipolygon or boundary
func isMultipolygon(tags map[string]string) bool {
	t := tags["type"]
	return t == "multipolygon" || t == "boundary"
}
