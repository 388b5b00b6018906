package taskalloc

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/taskalloc-sim/sim/trace"
)

// TaskID indexes a task in its Tree.
type TaskID int

// NoTask is the parent of the root task.
const NoTask TaskID = -1

// LogicalTask is the structural part of a task: its name and its position in
// the tree. Parent and children are indices into the owning Tree, never owning
// references.
type LogicalTask struct {
	name     string
	id       TaskID
	parent   TaskID
	children []TaskID
	tree     *Tree
}

// Name returns the task name.
func (l *LogicalTask) Name() string { return l.name }

// ID returns the task's index in its tree.
func (l *LogicalTask) ID() TaskID { return l.id }

// ParentID returns the parent index, or NoTask for the root.
func (l *LogicalTask) ParentID() TaskID { return l.parent }

// IsRoot reports whether the task has no parent.
func (l *LogicalTask) IsRoot() bool { return l.parent == NoTask }

// Parent returns the parent task, or nil for the root.
func (l *LogicalTask) Parent() *ExecutableTask {
	if l.parent == NoTask {
		return nil
	}
	return l.tree.Task(l.parent)
}

// Children returns the child tasks in insertion order.
func (l *LogicalTask) Children() []*ExecutableTask {
	out := make([]*ExecutableTask, 0, len(l.children))
	for _, id := range l.children {
		out = append(out, l.tree.Task(id))
	}
	return out
}

// Deps are the per-agent collaborators every task in a tree shares. They are
// injected, never global: each agent owns its own clock, generator and trace.
type Deps struct {
	Clock  Clock
	Rand   *rand.Rand
	Logger logrus.FieldLogger   // nil uses the logrus standard logger
	Trace  *trace.DecisionTrace // nil disables tracing
	IDs    io.Reader            // instance ID source; nil uses crypto randomness
}

// Tree is the arena that owns every task of one agent. Nodes are created once
// while the tree is built and live until the tree is dropped.
type Tree struct {
	nodes []*ExecutableTask
	index map[string]TaskID
	deps  Deps
}

// NewTree creates an empty tree.
func NewTree(deps Deps) (*Tree, error) {
	if deps.Clock == nil {
		return nil, fmt.Errorf("%w: task tree needs a clock", ErrInvalidConfig)
	}
	if deps.Rand == nil {
		return nil, fmt.Errorf("%w: task tree needs a random generator", ErrInvalidConfig)
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Tree{index: make(map[string]TaskID), deps: deps}, nil
}

// AddTask creates a task under parent (NoTask for the root). mech is the
// task's own execution mechanism and is required.
func (t *Tree) AddTask(name string, params TaskParams, parent TaskID, mech Taskable) (*ExecutableTask, error) {
	if _, dup := t.index[name]; dup {
		return nil, fmt.Errorf("%w: duplicate task %q", ErrInvalidConfig, name)
	}
	if parent == NoTask && t.Root() != nil {
		return nil, fmt.Errorf("%w: task %q: tree already has root %q", ErrInvalidConfig, name, t.Root().Name())
	}
	if parent != NoTask && t.Task(parent) == nil {
		return nil, fmt.Errorf("%w: task %q: unknown parent %d", ErrInvalidConfig, name, parent)
	}
	if mech == nil {
		return nil, fmt.Errorf("%w: task %q has no execution mechanism", ErrInvalidConfig, name)
	}
	task, err := newExecutableTask(name, params, mech)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", name, err)
	}
	id := TaskID(len(t.nodes))
	task.LogicalTask = LogicalTask{name: name, id: id, parent: parent, tree: t}
	task.log = t.deps.Logger.WithField("task", name)
	t.nodes = append(t.nodes, task)
	t.index[name] = id
	if parent != NoTask {
		p := t.nodes[parent]
		p.children = append(p.children, id)
		p.atomic = false
	}
	return task, nil
}

// SetSubtasks makes id partitionable into first and second, which must both
// be children of id.
func (t *Tree) SetSubtasks(id, first, second TaskID) error {
	task := t.Task(id)
	if task == nil {
		return fmt.Errorf("%w: unknown task %d", ErrInvalidConfig, id)
	}
	if first == second {
		return fmt.Errorf("%w: task %q: subtasks must differ", ErrInvalidConfig, task.Name())
	}
	for _, sub := range []TaskID{first, second} {
		s := t.Task(sub)
		if s == nil || s.parent != id {
			return fmt.Errorf("%w: task %q: subtask %d is not a child", ErrInvalidConfig, task.Name(), sub)
		}
	}
	task.subtasks = [2]TaskID{first, second}
	task.partitionable = true
	return nil
}

// Task returns the task with the given id, or nil.
func (t *Tree) Task(id TaskID) *ExecutableTask {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Lookup returns the task with the given name, or nil.
func (t *Tree) Lookup(name string) *ExecutableTask {
	id, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.nodes[id]
}

// Root returns the root task, or nil for an empty tree.
func (t *Tree) Root() *ExecutableTask {
	for _, n := range t.nodes {
		if n.parent == NoTask {
			return n
		}
	}
	return nil
}

// Tasks returns every task in creation order.
func (t *Tree) Tasks() []*ExecutableTask {
	out := make([]*ExecutableTask, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Len returns the number of tasks.
func (t *Tree) Len() int { return len(t.nodes) }
