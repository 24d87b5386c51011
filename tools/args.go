package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/GoCodeAlone/deepagent/task"
)

// decodeArgs maps loosely typed tool arguments onto a struct via JSON.
func decodeArgs(args map[string]any, v any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// normalizeRefs turns numeric blocked_by entries (batch indices) into strings.
func normalizeRefs(def map[string]any) {
	refs, ok := def["blocked_by"].([]any)
	if !ok {
		return
	}
	out := make([]any, 0, len(refs))
	for _, r := range refs {
		switch v := r.(type) {
		case float64:
			out = append(out, strconv.Itoa(int(v)))
		case int:
			out = append(out, strconv.Itoa(v))
		default:
			out = append(out, v)
		}
	}
	def["blocked_by"] = out
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringMapArg(args map[string]any, key string) map[string]string {
	out := make(map[string]string)
	raw, _ := args[key].(map[string]any)
	for k, v := range raw {
		switch s := v.(type) {
		case string:
			out[k] = s
		case nil:
		default:
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}

// failure converts absent-entity errors into a structured result the model
// can read. Other errors are returned as tool errors.
func failure(err error) (any, error) {
	if errors.Is(err, task.ErrNotFound) || errors.Is(err, task.ErrBuiltInTemplate) {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return nil, err
}

func taskIDs(tasks []*task.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
