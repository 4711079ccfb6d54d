// Package propagator implements the Data Propagator (C3, §4.3): builds a
// node's input document from its predecessors' outputs, static inputs, and
// user inputs, and processes a node's runner result into a
// WorkflowDataContract.
package propagator

import (
	"encoding/json"
	"time"

	"github.com/smilemakc/workflow-engine/internal/logger"
	"github.com/smilemakc/workflow-engine/internal/model"
)

// WorkflowInputsEnvKey is the well-known environment key the helper
// artifact is passed through to the program runner (§4.3 "Input helper
// artifact").
const WorkflowInputsEnvKey = "WORKFLOW_INPUTS_CONTENT"

// UIOutputEnvKey exports the raw UI interaction output document to a
// resumed node (§4.5 "Resume" step 5).
const UIOutputEnvKey = "UI_OUTPUT_DATA"

// ProgramNames resolves a node's program display name, used to derive the
// canonical name its outputs are exposed under (§4.3 "Canonical program
// name").
type ProgramNames interface {
	DisplayName(programID string) string
}

// OutputSource resolves a predecessor node's recorded output.
type OutputSource interface {
	NodeOutput(nodeID string) (model.WorkflowDataContract, bool)
}

// Propagator is the Data Propagator. Its only mutable state is the
// Transformer's compiled-query cache, which is mutex-guarded; callers supply the session's OutputSource and the workflow's
// ProgramNames per call.
type Propagator struct {
	transformer *Transformer
	log         *logger.Logger
}

// New builds a Propagator.
func New(log *logger.Logger) *Propagator {
	return &Propagator{transformer: NewTransformer(), log: log}
}

// InputResult is the input document plus the side-channel helper artifact
// for a single node (§4.3 "Input construction for node N").
type InputResult struct {
	Document map[string]any
	Artifact string
	Warnings []string
}

// BuildInput constructs node N's input document (§4.3, steps 1-4).
func (p *Propagator) BuildInput(w *model.Workflow, n *model.Node, ctx model.ExecutionContext, outputs OutputSource, names ProgramNames) InputResult {
	doc := make(map[string]any)
	artifactEntries := make(map[string]any)
	var warnings []string

	// Step 1: predecessor outputs under canonical program names, plus
	// legacy InputMapping entries.
	for _, edge := range w.IncomingEnabledEdges(n.ID) {
		pred, ok := w.GetNode(edge.Source)
		if !ok {
			continue
		}
		output, hasOutput := outputs.NodeOutput(pred.ID)
		canonical := CanonicalProgramName(names.DisplayName(pred.ProgramID))
		if hasOutput {
			doc[canonical] = output.Payload
			artifactEntries[canonical] = output.Payload
		} else {
			warnings = append(warnings, "missing output from predecessor "+pred.ID+" (canonical name "+canonical+")")
		}
	}

	for _, m := range n.Input.Mappings {
		src, ok := outputs.NodeOutput(m.SourceNodeID)
		if !ok {
			if !m.IsOptional {
				warnings = append(warnings, "unsatisfied required input mapping "+m.InputName+" from "+m.SourceNodeID)
			}
			if m.DefaultValue != nil {
				doc[m.InputName] = m.DefaultValue
			}
			continue
		}
		value, hasField := src.Payload[m.SourceOutputName]
		if !hasField {
			value = m.DefaultValue
		}
		transformed, err := p.transformer.Apply(m.Transformation, value)
		if err != nil {
			if p.log != nil {
				p.log.Warn("input mapping transformation failed", "node", n.ID, "mapping", m.InputName, "error", err)
			}
			transformed = value
		}
		doc[m.InputName] = transformed
	}

	// Step 2: static inputs.
	for k, v := range n.Input.StaticInputs {
		doc[k] = v
	}

	// Step 3: user inputs, falling back to declared defaults.
	for _, ui := range n.Input.UserInputs {
		key := n.ID + "." + ui.Name
		if val, ok := ctx.UserInputs[key]; ok {
			doc[ui.Name] = val
		} else if ui.Default != nil {
			doc[ui.Name] = ui.Default
		}
	}

	artifact, err := json.Marshal(artifactEntries)
	if err != nil {
		artifact = []byte("{}")
	}

	for _, w := range warnings {
		if p.log != nil {
			p.log.Warn("propagator input warning", "node", n.ID, "detail", w)
		}
	}

	return InputResult{Document: doc, Artifact: string(artifact), Warnings: warnings}
}

// ProcessOutput builds node N's WorkflowDataContract from its runner result
// and output mappings (§4.3 "Output processing for node N").
func (p *Propagator) ProcessOutput(n *model.Node, result model.RunnerResult) model.WorkflowDataContract {
	payload := map[string]any{
		"stdout":   result.Stdout,
		"stderr":   result.Stderr,
		"exitCode": result.ExitCode,
		"success":  result.Success,
		"duration": result.DurationMS,
	}

	if len(result.OutputFiles) > 0 {
		files := make([]map[string]any, 0, len(result.OutputFiles))
		for _, f := range result.OutputFiles {
			files = append(files, map[string]any{"fileName": f.FileName, "path": f.Path})
		}
		payload["outputFiles"] = files
	}

	for _, m := range n.Output.Mappings {
		value, ok := payload[m.SourceField]
		if !ok && result.Output != nil {
			value, ok = result.Output[m.SourceField]
		}
		if !ok {
			continue
		}
		transformed, err := p.transformer.Apply(m.Transformation, value)
		if err != nil {
			if p.log != nil {
				p.log.Warn("output mapping transformation failed", "node", n.ID, "mapping", m.OutputName, "error", err)
			}
			transformed = value
		}
		payload[m.OutputName] = transformed
	}

	raw, _ := json.Marshal(payload)

	return model.WorkflowDataContract{
		SourceNodeID: n.ID,
		TargetNodeID: model.EngineTarget,
		Payload:      payload,
		DataType:     "application/json",
		Timestamp:    time.Now(),
		Metadata: model.ContractMetadata{
			SizeBytes:   len(raw),
			ContentType: "application/json",
		},
	}
}
