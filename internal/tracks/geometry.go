package tracks

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/simplify"
)

// simplifyTolerance matches the tolerance historically used for stored lines;
// raw traces are too heavy for the database and are kept only as attachments.
const simplifyTolerance = 0.0001

// SimplifyLine reduces a raw GPS trace with Douglas-Peucker and encodes it as
// WKT for storage. Returns empty for traces too short to form a line.
func SimplifyLine(line orb.LineString) string {
	if len(line) < 2 {
		return ""
	}
	reduced := simplify.DouglasPeucker(simplifyTolerance).LineString(line.Clone())
	return wkt.MarshalString(reduced)
}

// DecodeLine parses a stored WKT line back into coordinates.
func DecodeLine(encoded string) (orb.LineString, error) {
	return wkt.UnmarshalLineString(encoded)
}
