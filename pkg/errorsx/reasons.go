package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSourceOpen   ReasonCode = "source_open"
	ReasonSourceLookup ReasonCode = "source_lookup"
	ReasonSourceRead   ReasonCode = "source_read"
	ReasonDemuxDecode  ReasonCode = "demux_decode"
	ReasonDemuxTimeout ReasonCode = "demux_inactivity"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"
	ReasonSTTRetry   ReasonCode = "stt_retry"

	ReasonSinkAppend   ReasonCode = "sink_append"
	ReasonStoragePut   ReasonCode = "storage_put"
	ReasonStorageMerge ReasonCode = "storage_merge"

	ReasonHookCall     ReasonCode = "hook_call"
	ReasonHookVeto     ReasonCode = "hook_veto"
	ReasonRelaunch     ReasonCode = "relaunch"
	ReasonIterationCap ReasonCode = "iteration_cap"
)
