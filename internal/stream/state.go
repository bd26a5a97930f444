package stream

// State enumerates the retrieval/generation stages reported through
// message_annotations parts.
type State string

const (
	// StateConnecting is the client-side initial state before the first
	// annotation arrives. Servers do not emit it.
	StateConnecting State = "CONNECTING"

	StateTrace                  State = "TRACE"
	StateSourceNodes            State = "SOURCE_NODES"
	StateKGRetrieval            State = "KG_RETRIEVAL"
	StateRefineQuestion         State = "REFINE_QUESTION"
	StateSearchRelatedDocuments State = "SEARCH_RELATED_DOCUMENTS"
	StateGenerateAnswer         State = "GENERATE_ANSWER"
	StateFinished               State = "FINISHED"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateConnecting, StateTrace, StateSourceNodes, StateKGRetrieval,
		StateRefineQuestion, StateSearchRelatedDocuments, StateGenerateAnswer,
		StateFinished:
		return true
	}
	return false
}

// DisplayText returns a human-readable default for s, used when an
// annotation arrives without display text.
func (s State) DisplayText() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateTrace:
		return "Preparing"
	case StateSourceNodes:
		return "Collecting sources"
	case StateKGRetrieval:
		return "Querying knowledge graph"
	case StateRefineQuestion:
		return "Refining the question"
	case StateSearchRelatedDocuments:
		return "Searching related documents"
	case StateGenerateAnswer:
		return "Generating answer"
	case StateFinished:
		return "Finished"
	default:
		return string(s)
	}
}
