package graph

// TaskID is a dense index into the registry. TermTaskID is reserved and never
// names a real task; it is the worker shutdown sentinel.
type TaskID int

// TermTaskID is the shutdown sentinel delivered to workers.
const TermTaskID TaskID = -1

// Kind discriminates the schedulable task variants.
type Kind int

const (
	KindAgentFunction Kind = iota // run a user function over an agent's rows
	KindSyncStart                 // freeze a message board's post buffer
	KindSyncFinish                // expose a message board's frozen buffer to readers
	KindIoPopWrite                // persist one agent variable column
	KindCondition                 // evaluate a function filter
	KindModelStart
	KindModelFinish
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindAgentFunction:
		return "agent_function"
	case KindSyncStart:
		return "sync_start"
	case KindSyncFinish:
		return "sync_finish"
	case KindIoPopWrite:
		return "io_pop_write"
	case KindCondition:
		return "condition"
	case KindModelStart:
		return "model_start"
	case KindModelFinish:
		return "model_finish"
	}
	return "unknown"
}

// KindFromString maps a kind name back to its Kind. Used by the config layer
// for the splittable-kinds option. The second return is false for unknown names.
func KindFromString(s string) (Kind, bool) {
	for k := KindAgentFunction; k <= KindModelFinish; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// defaultPriority biases ordering within a level. Lower executes later.
func defaultPriority(k Kind) int {
	switch k {
	case KindSyncStart:
		return 10
	case KindAgentFunction:
		return 5
	case KindSyncFinish:
		return 1
	case KindIoPopWrite:
		return 0
	}
	return 10
}

// DepKind discriminates dependency edge variants.
type DepKind int

const (
	DepState DepKind = iota
	DepCommunication
	DepData
	DepCondition
)

// String returns the edge kind's name.
func (d DepKind) String() string {
	switch d {
	case DepState:
		return "state"
	case DepCommunication:
		return "communication"
	case DepData:
		return "data"
	case DepCondition:
		return "condition"
	}
	return "unknown"
}

// Dependency is a directed edge from the owning task to a parent task the
// owner must wait for. Label names the state, message, or variable that gives
// rise to the edge.
type Dependency struct {
	Kind   DepKind
	Label  string
	Parent TaskID
}

// Task is the unit of scheduled work. Tasks are owned by the Registry;
// everything else holds TaskIDs.
type Task struct {
	ID         TaskID
	Kind       Kind
	ParentName string // agent name for agent and data tasks, message name for sync tasks
	Name       string // function name, variable name, or sync_start/sync_finish
	Level      int    // stratum assigned by levelisation; 0 means unassigned
	Priority   int

	ReadOnlyVars map[string]bool
	ReadVars     map[string]bool
	WriteVars    map[string]bool
	ReadsMsgs    map[string]bool
	PostsMsgs    map[string]bool

	Dependencies []Dependency
}

// NewTask creates a task of the given kind with its default priority.
func NewTask(kind Kind, parentName, name string) *Task {
	return &Task{
		ID:           TermTaskID, // assigned by the registry
		Kind:         kind,
		ParentName:   parentName,
		Name:         name,
		Priority:     defaultPriority(kind),
		ReadOnlyVars: make(map[string]bool),
		ReadVars:     make(map[string]bool),
		WriteVars:    make(map[string]bool),
		ReadsMsgs:    make(map[string]bool),
		PostsMsgs:    make(map[string]bool),
	}
}

// AddDependency appends an edge to a parent task.
func (t *Task) AddDependency(kind DepKind, label string, parent TaskID) {
	t.Dependencies = append(t.Dependencies, Dependency{Kind: kind, Label: label, Parent: parent})
}

// Label returns the parent_name task name used in diagnostics and dot output.
func (t *Task) Label() string {
	return t.ParentName + "_" + t.Name
}
