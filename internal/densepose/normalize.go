// Package densepose converts detector output into flat, class-tagged detections
// and provides the dense field helpers the detector adapters share.
package densepose

import "github.com/dj-oyu/rdk-x5_smart-pet-camera/iuv-extractor/pkg/types"

// minBoxColumns is x0, y0, x1, y1 plus the trailing score.
const minBoxColumns = 5

// Normalize flattens per-class detector output into one list ordered class by
// class, keeping the detector's order inside each class. ClassID is the index of
// the originating group. Optional attributes stay nil when the detector did not
// provide them. It returns nil when no group holds a usable box.
func Normalize(groups []types.ClassGroup) []types.Detection {
	var out []types.Detection
	for classID, g := range groups {
		for i, row := range g.Boxes {
			if len(row) < minBoxColumns {
				continue
			}
			det := types.Detection{
				Box: types.Box{
					X0: row[0],
					Y0: row[1],
					X1: row[2],
					Y1: row[3],
				},
				Confidence: row[len(row)-1],
				ClassID:    classID,
			}
			if i < len(g.Fields) {
				det.Field = g.Fields[i]
			}
			if i < len(g.Segments) {
				det.Segment = g.Segments[i]
			}
			if i < len(g.Keypoints) {
				det.Keypoints = g.Keypoints[i]
			}
			out = append(out, det)
		}
	}
	return out
}

// MaxConfidence returns the highest confidence in dets, or 0 when empty.
func MaxConfidence(dets []types.Detection) float64 {
	best := 0.0
	for i, d := range dets {
		if i == 0 || d.Confidence > best {
			best = d.Confidence
		}
	}
	return best
}
