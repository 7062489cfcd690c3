package engine

import (
	"fmt"

	"leadflow/models"
)

// GraphNode is one node of the visual flow editor.
type GraphNode struct {
	ID   string        `json:"id"`
	Type string        `json:"type"` // email, wait, delay, task, condition
	Data GraphNodeData `json:"data"`
}

// GraphNodeData carries the type-specific node properties.
type GraphNodeData struct {
	Label string `json:"label,omitempty"`

	// Email node
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body,omitempty"`
	FromName string `json:"from_name,omitempty"`

	// Wait node
	WaitDays  int `json:"wait_days,omitempty"`
	WaitHours int `json:"wait_hours,omitempty"`

	// Task node
	TaskTitle       string `json:"task_title,omitempty"`
	TaskDescription string `json:"task_description,omitempty"`
	TaskPriority    string `json:"task_priority,omitempty"`
	TaskDueDays     int    `json:"task_due_days,omitempty"`

	// Condition node
	ConditionType string `json:"condition_type,omitempty"`
}

// GraphEdge is a directed connection between two nodes. Label selects the
// yes/no branch on condition nodes.
type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"` // yes, no, or empty
}

// ConvertedBranch is a branch row still keyed by node ids. The caller resolves
// node ids to persisted step ids after inserting the steps.
type ConvertedBranch struct {
	ParentNodeID  string
	NextNodeID    string
	BranchName    string
	ConditionType string
	Negate        bool
	Priority      int
}

// Conversion is the executable form of a visual graph.
type Conversion struct {
	Steps       []models.SequenceStep
	Branches    []ConvertedBranch
	StepNumbers map[string]int // node id -> assigned step_number
}

// ConvertGraph turns a node/edge graph into an ordered step list and branch
// table. Pure transform; persisting the result (replace-all, in one
// transaction) is the caller's responsibility.
func ConvertGraph(nodes []GraphNode, edges []GraphEdge) (*Conversion, error) {
	if len(nodes) == 0 {
		return nil, &GraphError{Message: "graph has no nodes"}
	}

	byID := make(map[string]*GraphNode, len(nodes))
	for i := range nodes {
		if _, dup := byID[nodes[i].ID]; dup {
			return nil, &GraphError{Message: fmt.Sprintf("duplicate node id %q", nodes[i].ID)}
		}
		byID[nodes[i].ID] = &nodes[i]
	}

	indegree := make(map[string]int, len(nodes))
	outgoing := make(map[string][]GraphEdge, len(nodes))
	for _, edge := range edges {
		if _, ok := byID[edge.Source]; !ok {
			return nil, &GraphError{Message: fmt.Sprintf("edge %q references unknown source node %q", edge.ID, edge.Source)}
		}
		if _, ok := byID[edge.Target]; !ok {
			return nil, &GraphError{Message: fmt.Sprintf("edge %q references unknown target node %q", edge.ID, edge.Target)}
		}
		indegree[edge.Target]++
		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
	}

	// The entry point is the unique node nothing points at.
	var entry string
	for _, node := range nodes {
		if indegree[node.ID] == 0 {
			if entry != "" {
				return nil, &GraphError{Message: "graph has more than one entry node"}
			}
			entry = node.ID
		}
	}
	if entry == "" {
		return nil, &GraphError{Message: "graph has no entry node"}
	}

	// Topological visit from the entry, assigning step numbers in visit order.
	conversion := &Conversion{StepNumbers: make(map[string]int, len(nodes))}
	remaining := make(map[string]int, len(nodes))
	for id, deg := range indegree {
		remaining[id] = deg
	}

	queue := []string{entry}
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]

		node := byID[nodeID]
		stepNumber := len(conversion.Steps) + 1
		step, err := nodeToStep(node, stepNumber)
		if err != nil {
			return nil, err
		}
		conversion.Steps = append(conversion.Steps, *step)
		conversion.StepNumbers[nodeID] = stepNumber

		branches, err := branchesForNode(node, outgoing[nodeID])
		if err != nil {
			return nil, err
		}
		conversion.Branches = append(conversion.Branches, branches...)

		for _, edge := range outgoing[nodeID] {
			remaining[edge.Target]--
			if remaining[edge.Target] == 0 {
				queue = append(queue, edge.Target)
			}
		}
	}

	if len(conversion.Steps) != len(nodes) {
		return nil, &GraphError{Message: "graph has a cycle"}
	}

	return conversion, nil
}

func nodeToStep(node *GraphNode, stepNumber int) (*models.SequenceStep, error) {
	step := &models.SequenceStep{StepNumber: stepNumber}

	switch node.Type {
	case models.StepTypeEmail:
		step.StepType = models.StepTypeEmail
		step.Subject = node.Data.Subject
		step.Body = node.Data.Body
		step.FromName = node.Data.FromName
	case models.StepTypeWait, "delay":
		step.StepType = models.StepTypeWait
		step.WaitDays = node.Data.WaitDays
		step.WaitHours = node.Data.WaitHours
	case models.StepTypeTask:
		step.StepType = models.StepTypeTask
		step.TaskTitle = node.Data.TaskTitle
		step.TaskDescription = node.Data.TaskDescription
		step.TaskPriority = node.Data.TaskPriority
		step.TaskDueDays = node.Data.TaskDueDays
	case models.StepTypeCondition:
		step.StepType = models.StepTypeCondition
		step.ConditionType = node.Data.ConditionType
	default:
		return nil, &GraphError{Message: fmt.Sprintf("node %q has unknown type %q", node.ID, node.Type)}
	}

	return step, nil
}

// branchesForNode emits branch rows for a condition node's yes/no edges.
// Linear nodes produce none; their successor is implied by step order.
func branchesForNode(node *GraphNode, out []GraphEdge) ([]ConvertedBranch, error) {
	if node.Type != models.StepTypeCondition {
		if len(out) > 1 {
			return nil, &GraphError{Message: fmt.Sprintf("node %q has %d outgoing edges; only condition nodes may branch", node.ID, len(out))}
		}
		return nil, nil
	}

	if len(out) < 1 || len(out) > 2 {
		return nil, &GraphError{Message: fmt.Sprintf("condition node %q must have one or two outgoing edges, got %d", node.ID, len(out))}
	}

	var yes, no *GraphEdge
	for i := range out {
		switch out[i].Label {
		case "yes":
			if yes != nil {
				return nil, &GraphError{Message: fmt.Sprintf("condition node %q has two yes edges", node.ID)}
			}
			yes = &out[i]
		case "no":
			if no != nil {
				return nil, &GraphError{Message: fmt.Sprintf("condition node %q has two no edges", node.ID)}
			}
			no = &out[i]
		default:
			return nil, &GraphError{Message: fmt.Sprintf("condition node %q has an edge without a yes/no label", node.ID)}
		}
	}
	if yes == nil {
		return nil, &GraphError{Message: fmt.Sprintf("condition node %q is missing a yes edge", node.ID)}
	}

	branches := []ConvertedBranch{{
		ParentNodeID:  node.ID,
		NextNodeID:    yes.Target,
		BranchName:    "yes",
		ConditionType: node.Data.ConditionType,
		Priority:      0,
	}}
	if no != nil {
		branches = append(branches, ConvertedBranch{
			ParentNodeID:  node.ID,
			NextNodeID:    no.Target,
			BranchName:    "no",
			ConditionType: node.Data.ConditionType,
			Negate:        true,
			Priority:      1,
		})
	}

	return branches, nil
}
