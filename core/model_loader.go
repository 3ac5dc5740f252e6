// core/model_loader.go
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/headwaterworks/basin-simulator/model"
	"github.com/headwaterworks/basin-simulator/timestep"
)

// validate is the shared validator for raw model documents.
var validate = validator.New()

// LoadedModel is everything a model document describes: the validated
// network, the simulation horizon and the document metadata.
type LoadedModel struct {
	Title          string
	Description    string
	MinimumVersion string

	Network *Network
	Horizon *timestep.Timestepper
}

// internal JSON shapes - keep them unexported so we're free to evolve them.
type modelDocumentJSON struct {
	Metadata    metadataJSON    `json:"metadata"`
	Timestepper timestepperJSON `json:"timestepper" validate:"required"`
	Nodes       []nodeJSON      `json:"nodes" validate:"required,min=1,dive"`
	Edges       [][]string      `json:"edges" validate:"omitempty,dive,len=2"`
}

type metadataJSON struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	MinimumVersion string `json:"minimum_version"`
}

type timestepperJSON struct {
	Start    string `json:"start" validate:"required"`
	End      string `json:"end" validate:"required"`
	Timestep int    `json:"timestep" validate:"required,min=1"`
}

type nodeJSON struct {
	Name string `json:"name" validate:"required"`
	Type string `json:"type" validate:"required"`

	// Flow attributes accept either a bare number or a parameter object.
	MaxFlow json.RawMessage `json:"max_flow"`
	MinFlow json.RawMessage `json:"min_flow"`
	Cost    json.RawMessage `json:"cost"`

	// Volume attributes accept a bare number or a constant parameter
	// object; time-varying volume bounds are not supported.
	MaxVolume     json.RawMessage `json:"max_volume"`
	MinVolume     json.RawMessage `json:"min_volume"`
	InitialVolume json.RawMessage `json:"initial_volume"`
}

// LoadModel reads a JSON model document from r and assembles the network
// and horizon it describes. Malformed JSON fails with a decode error;
// every semantic defect fails with a *ValidationError.
func LoadModel(r io.Reader) (*LoadedModel, error) {
	var doc modelDocumentJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("LoadModel: decode failed: %w", err)
	}

	if err := validate.Struct(&doc); err != nil {
		return nil, &ValidationError{Reason: formatValidationError(err)}
	}

	horizon, err := parseHorizon(doc.Timestepper)
	if err != nil {
		return nil, err
	}

	defs := make([]model.NodeDefinition, 0, len(doc.Nodes))
	for _, raw := range doc.Nodes {
		def, err := parseNode(raw)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	edges := make([]model.EdgeDefinition, 0, len(doc.Edges))
	for _, pair := range doc.Edges {
		edges = append(edges, model.EdgeDefinition{From: pair[0], To: pair[1]})
	}

	net, err := BuildNetwork(defs, edges)
	if err != nil {
		return nil, err
	}

	return &LoadedModel{
		Title:          doc.Metadata.Title,
		Description:    doc.Metadata.Description,
		MinimumVersion: doc.Metadata.MinimumVersion,
		Network:        net,
		Horizon:        horizon,
	}, nil
}

func parseHorizon(raw timestepperJSON) (*timestep.Timestepper, error) {
	start, err := time.Parse("2006-01-02", raw.Start)
	if err != nil {
		return nil, &ValidationError{Field: "timestepper.start", Reason: fmt.Sprintf("bad date %q, want YYYY-MM-DD", raw.Start)}
	}
	end, err := time.Parse("2006-01-02", raw.End)
	if err != nil {
		return nil, &ValidationError{Field: "timestepper.end", Reason: fmt.Sprintf("bad date %q, want YYYY-MM-DD", raw.End)}
	}
	horizon, err := timestep.New(start, end, raw.Timestep)
	if err != nil {
		return nil, &ValidationError{Field: "timestepper", Reason: err.Error()}
	}
	return horizon, nil
}

func parseNode(raw nodeJSON) (model.NodeDefinition, error) {
	kind, ok := kindFromString(raw.Type)
	if !ok {
		return model.NodeDefinition{}, &ValidationError{Node: raw.Name, Field: "type", Reason: fmt.Sprintf("unknown node type %q", raw.Type)}
	}

	def := model.NodeDefinition{Name: raw.Name, Kind: kind}

	var err error
	if def.MaxFlow, err = decodeParamField(raw.Name, "max_flow", raw.MaxFlow); err != nil {
		return model.NodeDefinition{}, err
	}
	if def.MinFlow, err = decodeParamField(raw.Name, "min_flow", raw.MinFlow); err != nil {
		return model.NodeDefinition{}, err
	}
	if def.Cost, err = decodeParamField(raw.Name, "cost", raw.Cost); err != nil {
		return model.NodeDefinition{}, err
	}
	if def.MaxVolume, err = decodeScalarField(raw.Name, "max_volume", raw.MaxVolume); err != nil {
		return model.NodeDefinition{}, err
	}
	if def.MinVolume, err = decodeScalarField(raw.Name, "min_volume", raw.MinVolume); err != nil {
		return model.NodeDefinition{}, err
	}
	if def.InitialVolume, err = decodeScalarField(raw.Name, "initial_volume", raw.InitialVolume); err != nil {
		return model.NodeDefinition{}, err
	}
	return def, nil
}

// kindFromString maps the JSON "type" string to a NodeKind. Unlike flow
// attributes there is no tolerant default: a typo in a node type must not
// silently produce a different network.
func kindFromString(s string) (model.NodeKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "input", "catchment":
		return model.KindInput, true
	case "output", "demand":
		return model.KindOutput, true
	case "link", "river":
		return model.KindLink, true
	case "storage", "reservoir":
		return model.KindStorage, true
	default:
		return "", false
	}
}

func decodeParamField(node, field string, raw json.RawMessage) (model.Parameter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	p, err := decodeParameter(raw)
	if err != nil {
		return nil, &ValidationError{Node: node, Field: field, Reason: err.Error()}
	}
	return p, nil
}

// decodeScalarField accepts a bare number or a constant parameter object
// and yields its fixed value. Volume bounds take part in the storage state
// recursion invariant, so they may not vary with time.
func decodeScalarField(node, field string, raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	p, err := decodeParameter(raw)
	if err != nil {
		return nil, &ValidationError{Node: node, Field: field, Reason: err.Error()}
	}
	c, ok := p.(*model.ConstantParameter)
	if !ok {
		return nil, &ValidationError{Node: node, Field: field, Reason: "must be a number or a constant parameter"}
	}
	v, _ := c.Value(timestep.Timestep{})
	if math.IsNaN(v) {
		return nil, &ValidationError{Node: node, Field: field, Reason: "must be a finite number"}
	}
	return &v, nil
}

//
// ---------- Parameter registry ----------
//

// ParameterDecoder builds a Parameter from its raw JSON definition.
type ParameterDecoder func(raw json.RawMessage) (model.Parameter, error)

var parameterRegistry = map[string]ParameterDecoder{
	"constant":       decodeConstant,
	"monthlyprofile": decodeMonthlyProfile,
	"dailyprofile":   decodeDailyProfile,
	"arrayindexed":   decodeArrayIndexed,
	"aggregated":     decodeAggregated,
	"scaledprofile":  decodeScaledProfile,
}

// RegisterParameterType installs a decoder for a custom parameter type
// tag, replacing any previous decoder for that tag. Call it during
// programme initialisation, before models load.
func RegisterParameterType(tag string, dec ParameterDecoder) {
	parameterRegistry[strings.ToLower(tag)] = dec
}

// decodeParameter accepts either a bare JSON number, shorthand for a
// constant, or an object whose "type" tag selects a registered decoder.
func decodeParameter(raw json.RawMessage) (model.Parameter, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty parameter definition")
	}

	if trimmed[0] != '{' {
		var v float64
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("expected a number or a parameter object")
		}
		return model.Constant(v), nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("malformed parameter object: %v", err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("parameter object missing \"type\"")
	}
	dec, ok := parameterRegistry[strings.ToLower(probe.Type)]
	if !ok {
		return nil, fmt.Errorf("unknown parameter type %q", probe.Type)
	}
	return dec(trimmed)
}

func decodeConstant(raw json.RawMessage) (model.Parameter, error) {
	var body struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("constant: %v", err)
	}
	if body.Value == nil {
		return nil, fmt.Errorf("constant parameter missing \"value\"")
	}
	return model.Constant(*body.Value), nil
}

func decodeMonthlyProfile(raw json.RawMessage) (model.Parameter, error) {
	var body struct {
		Values []float64 `json:"values"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("monthlyprofile: %v", err)
	}
	return model.NewMonthlyProfile(body.Values)
}

func decodeDailyProfile(raw json.RawMessage) (model.Parameter, error) {
	var body struct {
		Values []float64 `json:"values"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("dailyprofile: %v", err)
	}
	return model.NewDailyProfile(body.Values)
}

func decodeArrayIndexed(raw json.RawMessage) (model.Parameter, error) {
	var body struct {
		Values []float64 `json:"values"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("arrayindexed: %v", err)
	}
	return model.NewArrayIndexed(body.Values)
}

func decodeAggregated(raw json.RawMessage) (model.Parameter, error) {
	var body struct {
		AggFunc    string            `json:"agg_func"`
		Parameters []json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("aggregated: %v", err)
	}
	if body.AggFunc == "" {
		body.AggFunc = string(model.AggMean)
	}
	children := make([]model.Parameter, 0, len(body.Parameters))
	for i, rawChild := range body.Parameters {
		child, err := decodeParameter(rawChild)
		if err != nil {
			return nil, fmt.Errorf("aggregated parameter %d: %v", i, err)
		}
		children = append(children, child)
	}
	return model.NewAggregated(model.AggFunc(strings.ToLower(body.AggFunc)), children)
}

func decodeScaledProfile(raw json.RawMessage) (model.Parameter, error) {
	var body struct {
		Scale   *float64        `json:"scale"`
		Profile json.RawMessage `json:"profile"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("scaledprofile: %v", err)
	}
	if body.Scale == nil {
		return nil, fmt.Errorf("scaledprofile missing \"scale\"")
	}
	if len(body.Profile) == 0 {
		return nil, fmt.Errorf("scaledprofile missing \"profile\"")
	}
	child, err := decodeParameter(body.Profile)
	if err != nil {
		return nil, fmt.Errorf("scaledprofile profile: %v", err)
	}
	return model.NewScaled(*body.Scale, child)
}

// formatValidationError renders the first struct-tag violation in a
// user-facing form.
func formatValidationError(err error) string {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	for _, e := range validationErrs {
		field := e.Namespace()
		switch e.Tag() {
		case "required":
			return fmt.Sprintf("%s: field is required", field)
		case "min":
			return fmt.Sprintf("%s: must be at least %s", field, e.Param())
		case "len":
			return fmt.Sprintf("%s: must have exactly %s elements", field, e.Param())
		default:
			return fmt.Sprintf("%s: fails %q constraint", field, e.Tag())
		}
	}
	return err.Error()
}
