package oracle

import "github.com/kalambet/dailymatch/internal/engine"

// ProposalSchema is the response schema sent with every clustering request.
func ProposalSchema() *engine.Schema {
	zero, one := 0.0, 1.0
	unit := func(desc string) *engine.Schema {
		return &engine.Schema{Type: "number", Description: desc, Minimum: &zero, Maximum: &one}
	}
	member := &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"participant_id": {Type: "string"},
			"affinity":       unit("Fit with the rest of the cluster"),
		},
		Required: []string{"participant_id", "affinity"},
	}
	pair := &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"from":     {Type: "string"},
			"to":       {Type: "string"},
			"relation": {Type: "string", Enum: []string{"similar", "opposite"}},
			"score":    unit("Strength of the relation"),
		},
		Required: []string{"from", "to", "relation", "score"},
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"clusters": {
				Type: "array",
				Items: &engine.Schema{
					Type: "object",
					Properties: map[string]*engine.Schema{
						"members": {Type: "array", Items: member},
						"pairs":   {Type: "array", Items: pair},
					},
					Required: []string{"members", "pairs"},
				},
			},
		},
		Required: []string{"clusters"},
	}
}
