package recording

import "time"

// SyncPreroll picks the pre-roll window shared by every stream of a session.
// audio is the buffered audio duration and video the longest video pre-roll
// written, both nil when unavailable. Video pre-roll was measured when the
// video pipelines started, delay before the trigger instant, so it is
// extended by delay. With both present the shorter window wins so that no
// stream starts before the others have content.
func SyncPreroll(audio, video *time.Duration, delay time.Duration) *time.Duration {
	var d time.Duration
	switch {
	case audio != nil && video != nil:
		d = min(*audio, *video+delay)
	case audio != nil:
		d = *audio
	case video != nil:
		d = *video + delay
	default:
		return nil
	}
	return &d
}
