package telephony

// AnsweredBy classifies who (or what) picked up an outbound call.
type AnsweredBy int

const (
	AnsweredUnknown AnsweredBy = iota
	AnsweredHuman
	AnsweredMachineBeep
	AnsweredMachineSilence
	AnsweredMachineOther
	AnsweredFax
	AnsweredUnrecognized
)

// Answer is the decoded answer classification. Raw carries the provider's
// original value for AnsweredUnrecognized.
type Answer struct {
	Kind AnsweredBy
	Raw  string
}

var answeredByValues = map[string]AnsweredBy{
	"":                    AnsweredUnknown,
	"unknown":             AnsweredUnknown,
	"human":               AnsweredHuman,
	"machine_end_beep":    AnsweredMachineBeep,
	"machine_end_silence": AnsweredMachineSilence,
	"machine_end_other":   AnsweredMachineOther,
	"fax":                 AnsweredFax,
}

// ParseAnsweredBy decodes the provider's answer-classification string once
// at the boundary. Values outside the known vocabulary map to
// AnsweredUnrecognized with the raw value preserved.
func ParseAnsweredBy(raw string) Answer {
	if kind, ok := answeredByValues[raw]; ok {
		return Answer{Kind: kind, Raw: raw}
	}
	return Answer{Kind: AnsweredUnrecognized, Raw: raw}
}

// Machine reports whether the classification is any answering-machine variant.
func (a Answer) Machine() bool {
	switch a.Kind {
	case AnsweredMachineBeep, AnsweredMachineSilence, AnsweredMachineOther:
		return true
	}
	return false
}
