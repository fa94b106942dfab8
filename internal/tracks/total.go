package tracks

// BuildTotal derives the synthesized whole-activity split (position 0) from
// the ordered real splits and writes the running totals onto them in place.
//
// The total's max speed is the minimum of the per-split max speeds. That is
// how this figure has always been combined and existing reports rely on it,
// so it is kept verbatim rather than replaced by a true maximum.
func BuildTotal(splits []TrackSplit) TrackSplit {
	total := TrackSplit{Position: 0}

	for i := range splits {
		total.DistanceMeters += splits[i].DistanceMeters
		total.DurationSeconds += splits[i].DurationSeconds
		splits[i].TotalDistanceMeters = total.DistanceMeters
		splits[i].TotalDurationSeconds = total.DurationSeconds
	}

	n := len(splits)
	if n > 0 {
		speedSum := 0.0
		minOfMaxSpeeds := splits[0].SpeedMax
		elevationMin := splits[0].ElevationMin
		elevationMax := splits[0].ElevationMax
		for i := range splits {
			speedSum += splits[i].Speed
			if splits[i].SpeedMax < minOfMaxSpeeds {
				minOfMaxSpeeds = splits[i].SpeedMax
			}
			if splits[i].ElevationMin < elevationMin {
				elevationMin = splits[i].ElevationMin
			}
			if splits[i].ElevationMax > elevationMax {
				elevationMax = splits[i].ElevationMax
			}
			total.ElevationGain += splits[i].ElevationGain
			total.ElevationLoss += splits[i].ElevationLoss
			total.Energy += splits[i].Energy
		}
		total.Speed = speedSum / float64(n)
		total.SpeedMax = minOfMaxSpeeds
		total.ElevationMin = elevationMin
		total.ElevationMax = elevationMax
	}

	if n >= 2 {
		first, last := splits[0], splits[n-1]
		total.DateStart = first.DateStart
		total.StartLat = first.StartLat
		total.StartLng = first.StartLng
		total.DateEnd = last.DateEnd
		total.EndLat = last.EndLat
		total.EndLng = last.EndLng
	}

	return total
}
