package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/tools"
)

// DateTime reports the current time, optionally in a named location
// and layout.
type DateTime struct {
	now func() time.Time
}

var _ tools.Tool = (*DateTime)(nil)

// NewDateTime creates a datetime tool.
func NewDateTime() *DateTime {
	return &DateTime{now: time.Now}
}

func (d *DateTime) Name() string        { return "datetime" }
func (d *DateTime) Description() string { return "Get the current date and time" }

func (d *DateTime) Schema() map[string]any {
	return tools.ObjectSchema(
		"Current date and time",
		map[string]any{
			"timezone": tools.StringProperty("IANA timezone name, e.g. 'Europe/Berlin' (default UTC)"),
			"format":   tools.StringProperty("Go time layout (default RFC3339)"),
		},
	)
}

func (d *DateTime) ApprovalMode() schema.ApprovalMode { return schema.ApprovalNever }

func (d *DateTime) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Timezone string `json:"timezone"`
		Format   string `json:"format"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	loc := time.UTC
	if params.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(params.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", params.Timezone)
		}
	}
	layout := params.Format
	if layout == "" {
		layout = time.RFC3339
	}
	return d.now().In(loc).Format(layout), nil
}
