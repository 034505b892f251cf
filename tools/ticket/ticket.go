// Package ticket is the queue ticket tool offered to the model. A call
// serializes the triage result and publishes it to the room on a fixed
// topic for the kiosk front end to print.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bytedance/sonic"

	"kioskagent/core"
)

const (
	ToolName     = "generate_queue_ticket"
	Topic        = "queue_ticket"
	Confirmation = "Ticket generated successfully."
)

// Urgencies is the triage scale of the hospital kiosk.
var Urgencies = []string{"Routine", "Urgent", "Emergency"}

var ErrMissingField = errors.New("missing ticket field")

// Payload is the wire form of a ticket: a flat JSON object with exactly
// these three keys.
type Payload struct {
	Department string `json:"department"`
	Urgency    string `json:"urgency"`
	Summary    string `json:"summary"`
}

// Publisher delivers a reliable data message to everyone in the room.
type Publisher interface {
	PublishData(ctx context.Context, payload []byte, topic string) error
}

// Descriptions is the wording the model sees for the tool and its fields.
type Descriptions struct {
	Tool       string
	Department string
	Urgency    string
	Summary    string
}

// HospitalDescriptions frames the ticket as the end of a patient screening.
var HospitalDescriptions = Descriptions{
	Tool:       "Generate a queue ticket when screening is complete",
	Department: "Medical department, e.g. 'General Medicine' or 'Cardiology'",
	Urgency:    "Triage level, e.g. 'Routine', 'Urgent' or 'Emergency'",
	Summary:    "Brief medical summary of the patient's complaint",
}

type Options struct {
	// UrgencyLevels is advertised to the model as the allowed values. Nil
	// leaves urgency as free text.
	UrgencyLevels []string
	// Descriptions overrides HospitalDescriptions field by field.
	Descriptions Descriptions
	Logger       *core.Logger
}

// Command publishes one ticket per invocation. Repeated invocations are
// not deduplicated.
type Command struct {
	publisher Publisher
	options   Options
	issued    atomic.Int64
}

func New(publisher Publisher, options Options) *Command {
	return &Command{publisher: publisher, options: options}
}

func (c *Command) Definition() core.LLMTool {
	d := c.descriptions()
	return core.LLMTool{
		Name:        ToolName,
		ToolId:      ToolName,
		Description: d.Tool,
		Parameters: []core.Parameter{
			{
				Name:        "department",
				Description: d.Department,
				Required:    true,
				Type:        core.LLMParameterTypeString,
			},
			{
				Name:        "urgency",
				Description: d.Urgency,
				Required:    true,
				Type:        core.LLMParameterTypeString,
				Enum:        c.options.UrgencyLevels,
			},
			{
				Name:        "summary",
				Description: d.Summary,
				Required:    true,
				Type:        core.LLMParameterTypeString,
			},
		},
	}
}

func (c *Command) descriptions() Descriptions {
	d := c.options.Descriptions
	if d.Tool == "" {
		d.Tool = HospitalDescriptions.Tool
	}
	if d.Department == "" {
		d.Department = HospitalDescriptions.Department
	}
	if d.Urgency == "" {
		d.Urgency = HospitalDescriptions.Urgency
	}
	if d.Summary == "" {
		d.Summary = HospitalDescriptions.Summary
	}
	return d
}

// Execute runs a model tool call. Absent string arguments publish as
// empty strings. Errors, including publish failures, are returned to the
// caller unchanged in kind.
func (c *Command) Execute(ctx context.Context, call core.LLMToolCall) (string, error) {
	department, _ := call.StringParam("department")
	urgency, _ := call.StringParam("urgency")
	summary, _ := call.StringParam("summary")

	if err := c.Generate(ctx, Payload{Department: department, Urgency: urgency, Summary: summary}); err != nil {
		return "", err
	}
	return Confirmation, nil
}

// Generate validates, encodes and publishes p. There is no retry.
func (c *Command) Generate(ctx context.Context, p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}

	logger := c.logger(ctx)
	logger.Info("generating ticket", "department", p.Department, "urgency", p.Urgency)

	data, err := sonic.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode ticket: %w", err)
	}

	seq := c.issued.Add(1)
	if seq > 1 {
		logger.Warn("ticket already issued in this session, publishing again", "sequence", seq)
	}

	if err := c.publisher.PublishData(ctx, data, Topic); err != nil {
		return fmt.Errorf("publish ticket: %w", err)
	}
	return nil
}

// Issued reports how many tickets this command has attempted to publish.
func (c *Command) Issued() int64 {
	return c.issued.Load()
}

func (c *Command) logger(ctx context.Context) *core.Logger {
	if c.options.Logger != nil {
		return c.options.Logger
	}
	return core.LoggerFromContext(ctx)
}

// Validate requires a department. Urgency and summary may be empty; the
// ticket still routes the visitor.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Department) == "" {
		return fmt.Errorf("%w: department", ErrMissingField)
	}
	return nil
}

// Decode parses a published ticket.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := sonic.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode ticket: %w", err)
	}
	return p, nil
}
