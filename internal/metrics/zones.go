// Package metrics turns the validated sample stream into live ride
// metrics: zone classification, time-weighted averages, normalized power
// and the derived training load numbers.
package metrics

// PowerZoneCount and HeartRateZoneCount size the per-zone accumulators.
const (
	PowerZoneCount     = 7
	HeartRateZoneCount = 5
)

// Coggan power zone boundaries as fractions of FTP.
var powerZoneUpperBounds = []float64{0.55, 0.75, 0.90, 1.05, 1.20, 1.50}

// Heart rate zone boundaries as fractions of threshold heart rate.
var heartRateZoneUpperBounds = []float64{0.81, 0.89, 0.94, 1.00}

// PowerZone classifies instantaneous power into zones 0..6. A boundary
// value belongs to the higher zone. When ftp is not set the rider cannot
// be placed, so everything lands in zone 0.
func PowerZone(watts, ftpWatts float64) int {
	if ftpWatts <= 0 {
		return 0
	}
	fraction := watts / ftpWatts
	for zone, upper := range powerZoneUpperBounds {
		if fraction < upper {
			return zone
		}
	}
	return PowerZoneCount - 1
}

// HeartRateZone classifies heart rate into zones 0..4 against the
// rider's threshold heart rate. Same boundary convention as PowerZone.
func HeartRateZone(bpm, thresholdBpm float64) int {
	if thresholdBpm <= 0 {
		return 0
	}
	fraction := bpm / thresholdBpm
	for zone, upper := range heartRateZoneUpperBounds {
		if fraction < upper {
			return zone
		}
	}
	return HeartRateZoneCount - 1
}
