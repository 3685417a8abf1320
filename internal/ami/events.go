package ami

// Kind is the tagged-union of PBX event kinds the orchestrator understands.
// Any AMI event whose "Event:" header does not match one of these, or that
// is disabled in [EventHandling], is dropped by the demultiplexer.
type Kind string

const (
	KindNewChannel    Kind = "Newchannel"
	KindTimeRule      Kind = "TimeRule"
	KindTimeGroup     Kind = "TimeGroup"
	KindIVRChoose     Kind = "IVRchoose"
	KindQueueJoin     Kind = "QueueCallerJoin"
	KindDialBegin     Kind = "DialBegin"
	KindDialEnd       Kind = "DialEnd"
	KindAgentConnect  Kind = "AgentConnect"
	KindAgentComplete Kind = "AgentComplete"
	KindVarSet        Kind = "VarSet"
	KindHangup        Kind = "Hangup"
)

// recognized is the set of event kinds the demultiplexer will ever route;
// anything else is dropped before the allow-list check even runs.
var recognized = map[Kind]struct{}{
	KindNewChannel:    {},
	KindTimeRule:      {},
	KindTimeGroup:     {},
	KindIVRChoose:     {},
	KindQueueJoin:     {},
	KindDialBegin:     {},
	KindDialEnd:       {},
	KindAgentConnect:  {},
	KindAgentComplete: {},
	KindVarSet:        {},
	KindHangup:        {},
}

// Dispatch is a normalized, routable unit of work handed to the
// orchestrator: an event kind, the correlation id it belongs to, and its
// raw headers.
type Dispatch struct {
	Kind          Kind
	CorrelationID string
	Headers       map[string]string
}
