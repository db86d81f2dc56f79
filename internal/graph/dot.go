package graph

import (
	"fmt"
	"io"
)

// WriteDot emits the dependency graph as a Graphviz digraph, edges labelled
// by the state, message, or memory variable that gives rise to them. The
// shape matches the diagnostic dump consumed by dot.
func (g *Graph) WriteDot(w io.Writer) error {
	if _, err := fmt.Fprint(w, "digraph dependency_graph {\n"); err != nil {
		return err
	}
	fmt.Fprint(w, "\trankdir=BT;\n")
	fmt.Fprint(w, "\tsize=\"8,5;\"\n")
	fmt.Fprint(w, "\tnode [shape = rect];\n")
	fmt.Fprint(w, "\t\n\t/* Tasks */\n")

	for _, t := range g.Registry.Tasks() {
		fmt.Fprintf(w, "\t%s[label = \"%s\\n%s\"]\n", t.Label(), t.ParentName, t.Name)
		for _, dep := range t.Dependencies {
			parent := g.Registry.Get(dep.Parent)
			fmt.Fprintf(w, "\t%s -> %s [ label = \"<%s%s>\" ];\n",
				t.Label(), parent.Label(), edgeLabelPrefix(dep.Kind), dep.Label)
		}
	}

	_, err := fmt.Fprint(w, "}")
	return err
}

func edgeLabelPrefix(k DepKind) string {
	switch k {
	case DepCommunication:
		return "Message: "
	case DepData:
		return "Memory: "
	case DepState:
		return "State: "
	}
	return ""
}

// kindDiagnostic maps a task kind to the short tag used in the task list dump.
func kindDiagnostic(k Kind) string {
	switch k {
	case KindIoPopWrite:
		return "disk"
	case KindSyncStart, KindSyncFinish:
		return "comm"
	case KindAgentFunction:
		return "func"
	}
	return ""
}

// WriteTaskList prints one line per task in ordered-list order:
// level<TAB>kind<TAB>label, where label is the task's parent name and name
// joined by an underscore (see Task.Label).
func (g *Graph) WriteTaskList(w io.Writer) error {
	ids := g.ordered
	if len(ids) == 0 {
		for _, t := range g.Registry.Tasks() {
			ids = append(ids, t.ID)
		}
	}
	for _, id := range ids {
		t := g.Registry.Get(id)
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", t.Level, kindDiagnostic(t.Kind), t.Label()); err != nil {
			return err
		}
	}
	return nil
}
