package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spidercast/spidercast/internal/bus"
	"github.com/spidercast/spidercast/internal/envelope"
	"github.com/spidercast/spidercast/internal/extract"
	"github.com/spidercast/spidercast/internal/task"
)

// Command verbs carried in the message body; the routing key is advisory,
// the body's cmd field is authoritative.
const (
	CmdStart = "start"
	CmdStop  = "stop"
)

// taskID accepts both the string and the bare-integer encodings older
// publishers emit.
type taskID string

func (t *taskID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = taskID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("task_id must be a string or number: %w", err)
	}
	*t = taskID(n.String())
	return nil
}

// Command is the decoded control message. All fields except cmd and task_id
// are meaningful for start only.
type Command struct {
	Cmd         string          `json:"cmd"`
	TaskID      taskID          `json:"task_id"`
	Keywords    json.RawMessage `json:"keywords"`
	PageSize    int             `json:"pageSize"`
	Engine      string          `json:"engine"`
	Concurrency int             `json:"concurrency"`
	RatePerSec  float64         `json:"rateLimitPerSec"`
}

// decodeCommand parses a command queue delivery. The routing key, when
// present, must agree with the body verb.
func decodeCommand(msg bus.Message) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Cmd != CmdStart && cmd.Cmd != CmdStop {
		return Command{}, fmt.Errorf("unknown command %q", cmd.Cmd)
	}
	if cmd.TaskID == "" {
		return Command{}, errors.New("command missing task_id")
	}
	switch msg.RoutingKey {
	case "", bus.RouteStart, bus.RouteStop:
	default:
		return Command{}, fmt.Errorf("unexpected routing key %q", msg.RoutingKey)
	}
	return cmd, nil
}

// params converts a start command into runner parameters. Omitted knobs stay
// zero and pick up the runner defaults.
func (c Command) params() task.Params {
	return task.Params{
		TaskID:      string(c.TaskID),
		Keywords:    envelope.NormalizeKeywords(c.Keywords),
		TotalPages:  c.PageSize,
		Engine:      extract.Engine(c.Engine),
		Concurrency: c.Concurrency,
		RatePerSec:  c.RatePerSec,
	}
}
