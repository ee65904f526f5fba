package gesture

import (
	"math"
	"time"
)

// Release classification thresholds, in screen points and wall time.
const (
	TapMaxMovement   = 5.0
	TapMaxDuration   = 300 * time.Millisecond
	SwipeMinDistance = 50.0
)

// ClassifyRelease decides what a finished pan gesture was from its total
// displacement and hold time. Swipes also report a direction.
func ClassifyRelease(dx, dy float64, held time.Duration) (Kind, string) {
	adx, ady := math.Abs(dx), math.Abs(dy)

	switch {
	case adx < TapMaxMovement && ady < TapMaxMovement && held < TapMaxDuration:
		return KindTap, ""
	case adx > SwipeMinDistance || ady > SwipeMinDistance:
		if adx > ady {
			if dx > 0 {
				return KindSwipe, "right"
			}
			return KindSwipe, "left"
		}
		if dy > 0 {
			return KindSwipe, "down"
		}
		return KindSwipe, "up"
	default:
		return KindDrag, ""
	}
}
