package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/civicflow/civicflow/pkg/models"
)

// Parser parses declarative workflow template definitions from YAML or
// JSON files.
type Parser struct {
	validator *Validator
}

// NewParser creates a new template parser.
func NewParser() *Parser {
	return &Parser{validator: NewValidator()}
}

// templateFile is the on-disk shape of a template definition.
type templateFile struct {
	ID          string     `json:"id" yaml:"id"`
	Version     int        `json:"version" yaml:"version"`
	Type        string     `json:"workflow_type" yaml:"workflow_type"`
	Category    string     `json:"category" yaml:"category"`
	Description string     `json:"description" yaml:"description"`
	Tags        []string   `json:"tags" yaml:"tags"`
	Tasks       []taskFile `json:"tasks" yaml:"tasks"`
	Edges       []edgeFile `json:"edges" yaml:"edges"`
}

type edgeFile struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

type taskFile struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`

	Retries    int    `json:"retries,omitempty" yaml:"retries,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`

	Action           *models.ActionConfig           `json:"action,omitempty" yaml:"action,omitempty"`
	Conditional      *models.ConditionalConfig      `json:"conditional,omitempty" yaml:"conditional,omitempty"`
	Approval         *models.ApprovalConfig         `json:"approval,omitempty" yaml:"approval,omitempty"`
	Input            *models.InputConfig            `json:"input,omitempty" yaml:"input,omitempty"`
	Integration      *models.IntegrationConfig      `json:"integration,omitempty" yaml:"integration,omitempty"`
	Terminal         *models.TerminalConfig         `json:"terminal,omitempty" yaml:"terminal,omitempty"`
	ChildWorkflow    *models.ChildWorkflowConfig    `json:"child_workflow,omitempty" yaml:"child_workflow,omitempty"`
	EntityValidation *models.EntityValidationConfig `json:"entity_validation,omitempty" yaml:"entity_validation,omitempty"`
}

// ParseYAMLFile parses a template definition from a YAML file.
func (p *Parser) ParseYAMLFile(path string) (*models.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseYAML(data)
}

// ParseYAML parses a template definition from YAML bytes.
func (p *Parser) ParseYAML(data []byte) (*models.Template, error) {
	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return p.convert(&tf)
}

// ParseJSONFile parses a template definition from a JSON file.
func (p *Parser) ParseJSONFile(path string) (*models.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseJSON(data)
}

// ParseJSON parses a template definition from JSON bytes.
func (p *Parser) ParseJSON(data []byte) (*models.Template, error) {
	var tf templateFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return p.convert(&tf)
}

func (p *Parser) convert(tf *templateFile) (*models.Template, error) {
	now := time.Now().UTC()

	tpl := &models.Template{
		ID:          tf.ID,
		Version:     tf.Version,
		Type:        models.WorkflowType(tf.Type),
		Category:    tf.Category,
		Description: tf.Description,
		Tags:        tf.Tags,
		Tasks:       make(map[string]*models.TaskDef, len(tf.Tasks)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if tpl.Version == 0 {
		tpl.Version = 1
	}
	if tpl.Type == "" {
		tpl.Type = models.WorkflowTypeProcess
	}

	for _, t := range tf.Tasks {
		def := &models.TaskDef{
			ID:               t.ID,
			Name:             t.Name,
			Kind:             models.OperatorKind(t.Kind),
			Action:           t.Action,
			Conditional:      t.Conditional,
			Approval:         t.Approval,
			Input:            t.Input,
			Integration:      t.Integration,
			Terminal:         t.Terminal,
			ChildWorkflow:    t.ChildWorkflow,
			EntityValidation: t.EntityValidation,
		}
		if def.Name == "" {
			def.Name = t.ID
		}
		if t.Retries > 0 {
			delay := time.Second
			if t.RetryDelay != "" {
				d, err := time.ParseDuration(t.RetryDelay)
				if err != nil {
					return nil, fmt.Errorf("task %s: invalid retry_delay: %w", t.ID, err)
				}
				delay = d
			}
			def.Retry = &models.RetryPolicy{
				MaxAttempts:  t.Retries + 1,
				InitialDelay: delay,
				MaxDelay:     5 * time.Minute,
			}
		}
		tpl.Tasks[t.ID] = def
	}

	for _, e := range tf.Edges {
		tpl.Edges = append(tpl.Edges, models.Edge{From: e.From, To: e.To})
	}

	if err := p.validator.Validate(tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}
