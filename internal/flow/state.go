package flow

import "FlowSentry/internal/model"

// Apply updates state with the effects of d travelling in direction dir.
// The SYN counter only moves for SYN-only segments unless countAll is set.
// It returns whether the SYN counter moved and its value afterwards.
func Apply(state *model.ConnectionState, dir model.Direction, d *model.Datagram, countAll bool) (bool, uint32) {
	synCounted := countAll || d.Flags.IsSYN()

	if d.Timestamp.After(state.LastSeen) {
		state.LastSeen = d.Timestamp
	}

	switch dir {
	case model.AToZ:
		state.AToZBytes += uint64(d.PayloadBytes)
		state.AToZPackets++
		state.AToZLastSeq = d.Seq
		state.AToZLastAck = d.Ack
		if synCounted {
			state.AToZSynCounter++
		}
		return synCounted, state.AToZSynCounter
	default:
		state.ZToABytes += uint64(d.PayloadBytes)
		state.ZToAPackets++
		state.ZToALastSeq = d.Seq
		state.ZToALastAck = d.Ack
		if synCounted {
			state.ZToASynCounter++
		}
		return synCounted, state.ZToASynCounter
	}
}
