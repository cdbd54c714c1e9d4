package policy

// ToolKind classifies how the Tool Executor may schedule a tool call within
// a turn: Read calls from the same batch run in parallel, Mutate calls run
// strictly serially in declaration order, and Interactive calls require a
// Feedback Arbiter round-trip before they may run at all.
type ToolKind string

const (
	ToolKindRead        ToolKind = "read"
	ToolKindMutate      ToolKind = "mutate"
	ToolKindInteractive ToolKind = "interactive"
)

// interactiveTools lists tools that must be gated behind user confirmation
// before dispatch, mirroring the approval-required set the teacher's runtime
// read from RuntimeOptions.RequireApproval. Here the set is fixed by tool
// identity rather than a configurable glob, since spec's Tool Executor
// treats interactivity as a property of the tool, not a per-deployment knob.
var interactiveTools = map[string]bool{
	"ask_user":      true,
	"confirm":       true,
	"request_input": true,
}

// readTools mirrors ToolGroups["group:readonly"]: tools that only observe
// state and are therefore safe to run concurrently with one another.
var readTools = toSet(ToolGroups["group:readonly"])

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Classify returns the ToolKind for a tool name. Unknown names default to
// Mutate, since serializing an unrecognized tool is always safe while
// parallelizing one that turns out to mutate state is not.
func Classify(name string) ToolKind {
	if interactiveTools[name] {
		return ToolKindInteractive
	}
	if readTools[name] {
		return ToolKindRead
	}
	return ToolKindMutate
}
