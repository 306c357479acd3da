package engine

// Phase is the protocol position of the stream processor. A message walks
// the phases in declaration order: four IV words, AAD and payload of
// host-determined length, then four tag words (decrypt direction only;
// the encrypt direction emits the tag registers and completes directly).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseIV0
	PhaseIV1
	PhaseIV2
	PhaseIV3
	PhaseAAD
	PhasePayload
	PhaseTag0
	PhaseTag1
	PhaseTag2
	PhaseTag3
)

// next is the only place a phase advances.
func (p Phase) next() Phase {
	switch p {
	case PhaseIV0:
		return PhaseIV1
	case PhaseIV1:
		return PhaseIV2
	case PhaseIV2:
		return PhaseIV3
	case PhaseIV3:
		return PhaseAAD
	case PhaseAAD:
		return PhasePayload
	case PhasePayload:
		return PhaseTag0
	case PhaseTag0:
		return PhaseTag1
	case PhaseTag1:
		return PhaseTag2
	case PhaseTag2:
		return PhaseTag3
	case PhaseTag3:
		return PhaseIdle
	default:
		return PhaseIdle
	}
}

func (p Phase) iv() bool {
	return p >= PhaseIV0 && p <= PhaseIV3
}

func (p Phase) tag() bool {
	return p >= PhaseTag0 && p <= PhaseTag3
}

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseIV0, PhaseIV1, PhaseIV2, PhaseIV3:
		return "iv" + string(rune('0'+p-PhaseIV0))
	case PhaseAAD:
		return "aad"
	case PhasePayload:
		return "payload"
	case PhaseTag0, PhaseTag1, PhaseTag2, PhaseTag3:
		return "tag" + string(rune('0'+p-PhaseTag0))
	default:
		return "unknown"
	}
}
