package room

// ToleranceSeconds is the band within which a receiver ignores position drift
// during steady playback, so network jitter does not cause visible seeking.
const ToleranceSeconds = 2.0

// AdjustedPosition compensates a received playback triple for the one-way
// delay between the store write and the receiver's clock read. Paused triples
// are not drift-adjusted: a paused position does not advance with wall time.
func AdjustedPosition(pb Playback, localNowMillis int64) float64 {
	if !pb.Playing {
		return pb.Position
	}
	return pb.Position + float64(localNowMillis-pb.SentAt)/1000.0
}

// SyncDecision is the receiver-side outcome of one playback_sync: whether to
// snap the local position, where to, and which play state to enforce. The
// play state is applied unconditionally; only the position is subject to the
// tolerance window.
type SyncDecision struct {
	Seek     bool
	Position float64
	Playing  bool
}

// Evaluate applies the tolerance algorithm: seek iff the gap between the local
// position and the delay-adjusted remote position exceeds ToleranceSeconds.
func Evaluate(pb Playback, localNowMillis int64, localPosition float64) SyncDecision {
	adjusted := AdjustedPosition(pb, localNowMillis)
	delta := localPosition - adjusted
	if delta < 0 {
		delta = -delta
	}
	return SyncDecision{
		Seek:     delta > ToleranceSeconds,
		Position: adjusted,
		Playing:  pb.Playing,
	}
}
