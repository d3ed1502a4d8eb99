package load

import (
	"fmt"
	"strings"

	"github.com/opengovsl/landetl/types"
)

// pointWKT renders coordinates as a POINT in lng-lat axis order.
func pointWKT(c *types.Coordinates) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("POINT(%v %v)", c.Longitude, c.Latitude)
}

// polygonWKT renders the boundary as a POLYGON, closing the ring when the
// source left it open. Fewer than 3 vertices yields "".
func polygonWKT(boundary []types.Coordinates) string {
	if len(boundary) < 3 {
		return ""
	}
	pts := make([]string, 0, len(boundary)+1)
	for _, c := range boundary {
		pts = append(pts, fmt.Sprintf("%v %v", c.Longitude, c.Latitude))
	}
	if boundary[0] != boundary[len(boundary)-1] {
		pts = append(pts, pts[0])
	}
	return fmt.Sprintf("POLYGON((%s))", strings.Join(pts, ", "))
}
