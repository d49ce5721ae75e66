package bus

// BusError is a typed error-kind constant, following the same pattern as
// skill.SkillError and channel.ChannelError: a named string with a fixed
// message, matched by the caller via errors.Is.
type BusError string

func (e BusError) Error() string { return string(e) }

const (
	// ErrUnknownRecipient covers both "no such plugin" and "plugin did not
	// opt into direct messaging" — the distribution center tracks only a
	// single map of opted-in inboxes, so the two conditions are
	// indistinguishable at the lookup site.
	ErrUnknownRecipient BusError = "bus: unknown or non-opted-in recipient"
	ErrPermissionDenied BusError = "bus: wiretap requires a privileged plugin"
	ErrMissingRecipient BusError = "bus: direct message sent without a recipient"
	ErrIngressClosed    BusError = "bus: ingress queue is closed"
	ErrDirectInboxFull  BusError = "bus: direct inbox full, message dropped"
)
