package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/laurentenhoor/devclaw/internal/workflow"
)

// statePatch is a partial state override: nil fields keep the base value,
// the On mapping merges transition-by-transition.
type statePatch struct {
	Type     *workflow.StateType            `yaml:"type"`
	Label    *string                        `yaml:"label"`
	Color    *string                        `yaml:"color"`
	Role     *string                        `yaml:"role"`
	Priority *int                           `yaml:"priority"`
	Check    *workflow.Check                `yaml:"check"`
	On       map[string]workflow.Transition `yaml:"on"`
}

// workflowPatch is a partial workflow override. The states mapping is
// deep-merged so a project can recolor one state or add one transition
// without restating the whole graph.
type workflowPatch struct {
	Initial      string
	ReviewPolicy workflow.ReviewPolicy
	Order        []string
	States       map[string]statePatch
}

func (p *workflowPatch) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Initial      string                `yaml:"initial"`
		ReviewPolicy workflow.ReviewPolicy `yaml:"reviewPolicy"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	p.Initial = head.Initial
	p.ReviewPolicy = head.ReviewPolicy
	p.States = make(map[string]statePatch)

	var statesNode *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "states" {
			statesNode = node.Content[i+1]
			break
		}
	}
	if statesNode == nil {
		return nil
	}
	if statesNode.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow states must be a mapping")
	}
	for i := 0; i+1 < len(statesNode.Content); i += 2 {
		key := statesNode.Content[i].Value
		var sp statePatch
		if err := statesNode.Content[i+1].Decode(&sp); err != nil {
			return fmt.Errorf("state %q: %w", key, err)
		}
		p.Order = append(p.Order, key)
		p.States[key] = sp
	}
	return nil
}

// apply merges the patch into a workflow in place. New state keys append in
// patch declaration order.
func (p *workflowPatch) apply(w *workflow.Workflow) {
	if p.Initial != "" {
		w.Initial = p.Initial
	}
	if p.ReviewPolicy != "" {
		w.ReviewPolicy = p.ReviewPolicy
	}
	for _, key := range p.Order {
		sp := p.States[key]
		base, exists := w.States[key]
		if !exists {
			w.Keys = append(w.Keys, key)
		}
		if sp.Type != nil {
			base.Type = *sp.Type
		}
		if sp.Label != nil {
			base.Label = *sp.Label
		}
		if sp.Color != nil {
			base.Color = *sp.Color
		}
		if sp.Role != nil {
			base.Role = *sp.Role
		}
		if sp.Priority != nil {
			base.Priority = *sp.Priority
		}
		if sp.Check != nil {
			base.Check = *sp.Check
		}
		if len(sp.On) > 0 {
			if base.On == nil {
				base.On = make(map[string]workflow.Transition, len(sp.On))
			}
			for ev, tr := range sp.On {
				base.On[ev] = tr
			}
		}
		w.States[key] = base
	}
}
