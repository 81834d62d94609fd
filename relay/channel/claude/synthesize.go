package claude

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/relayhub/relayhub/relay/helper"
)

func writeSyntheticEvent(c *gin.Context, event string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return helper.WriteEvent(c, event, data)
}

// SynthesizeStream replays a complete messages response as the event
// sequence a streaming call would have produced, so callers cannot tell the
// non-streaming fallback path from a genuine stream.
func SynthesizeStream(c *gin.Context, body []byte) error {
	root := gjson.ParseBytes(body)

	message := map[string]any{
		"id":            root.Get("id").String(),
		"type":          "message",
		"role":          "assistant",
		"model":         root.Get("model").String(),
		"content":       []any{},
		"stop_reason":   nil,
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":                root.Get("usage.input_tokens").Int(),
			"output_tokens":               1,
			"cache_creation_input_tokens": root.Get("usage.cache_creation_input_tokens").Int(),
			"cache_read_input_tokens":     root.Get("usage.cache_read_input_tokens").Int(),
		},
	}
	if err := writeSyntheticEvent(c, "message_start", map[string]any{
		"type":    "message_start",
		"message": message,
	}); err != nil {
		return err
	}

	for i, block := range root.Get("content").Array() {
		if err := synthesizeContentBlock(c, i, block); err != nil {
			return err
		}
	}

	delta := map[string]any{
		"stop_reason":   root.Get("stop_reason").Value(),
		"stop_sequence": root.Get("stop_sequence").Value(),
	}
	if err := writeSyntheticEvent(c, "message_delta", map[string]any{
		"type":  "message_delta",
		"delta": delta,
		"usage": map[string]any{
			"output_tokens": root.Get("usage.output_tokens").Int(),
		},
	}); err != nil {
		return err
	}

	return writeSyntheticEvent(c, "message_stop", map[string]any{"type": "message_stop"})
}

func synthesizeContentBlock(c *gin.Context, index int, block gjson.Result) error {
	blockType := block.Get("type").String()

	var start map[string]any
	var delta map[string]any
	switch blockType {
	case "tool_use":
		start = map[string]any{
			"type":  "tool_use",
			"id":    block.Get("id").String(),
			"name":  block.Get("name").String(),
			"input": map[string]any{},
		}
		delta = map[string]any{
			"type":         "input_json_delta",
			"partial_json": block.Get("input").Raw,
		}
	case "thinking":
		start = map[string]any{"type": "thinking", "thinking": ""}
		delta = map[string]any{
			"type":     "thinking_delta",
			"thinking": block.Get("thinking").String(),
		}
	default:
		start = map[string]any{"type": "text", "text": ""}
		delta = map[string]any{
			"type": "text_delta",
			"text": block.Get("text").String(),
		}
	}

	if err := writeSyntheticEvent(c, "content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         index,
		"content_block": start,
	}); err != nil {
		return err
	}
	if err := writeSyntheticEvent(c, "content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": delta,
	}); err != nil {
		return err
	}
	return writeSyntheticEvent(c, "content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": index,
	})
}
