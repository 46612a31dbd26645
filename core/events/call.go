package events

const (
	// KindEndCall identifies a request to end the call.
	KindEndCall Kind = "call.end"
	// KindTransferCall identifies a request to transfer the call.
	KindTransferCall Kind = "call.transfer"
)

// EndCall asks for the call to end.
type EndCall struct {
	Base
	Reason string
}

// NewEndCall creates an end call event.
func NewEndCall(reason string, opts ...RebaseOption) EndCall {
	return EndCall{Base: rebase(KindEndCall, opts), Reason: reason}
}

// TransferCall asks for the call to be transferred to Target.
type TransferCall struct {
	Base
	Target string
}

// NewTransferCall creates a transfer call event.
func NewTransferCall(target string, opts ...RebaseOption) TransferCall {
	return TransferCall{Base: rebase(KindTransferCall, opts), Target: target}
}
