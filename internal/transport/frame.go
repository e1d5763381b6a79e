package transport

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/haemilhq/haemilchat/pkg/models"
)

// rawFrame is the permissive decode target for inbound frames. The
// canonical wire field for the timestamp is createdAt; timestamp is
// accepted as a legacy fallback with lower precedence. Anything else is
// rejected rather than guessed at.
type rawFrame struct {
	CID       any `json:"cid"`
	Message   any `json:"message"`
	CreatedAt any `json:"createdAt"`
	Timestamp any `json:"timestamp"`
}

// parseFrame normalizes an inbound JSON text frame. On error the returned
// frame still carries the cid when one was readable, so the session can
// fail the matching pending request instead of silently letting it time
// out.
func parseFrame(data []byte) (models.Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	var frame models.Frame
	switch v := raw.CID.(type) {
	case nil:
	case string:
		frame.CID = v
	case float64:
		// Some backends emit numeric ids; normalize to the string form.
		frame.CID = fmt.Sprintf("%.0f", v)
	default:
		return frame, fmt.Errorf("cid has unsupported type %T", raw.CID)
	}

	msg, ok := raw.Message.(string)
	if !ok || raw.Message == nil {
		return frame, fmt.Errorf("message field missing or not a string")
	}
	frame.Message = msg

	created := raw.CreatedAt
	if created == nil {
		created = raw.Timestamp
	}
	ts, ok := created.(float64)
	if !ok {
		return frame, fmt.Errorf("createdAt field missing or not a number")
	}
	frame.CreatedAt = int64(math.Round(ts))
	return frame, nil
}

// encodeFrame serializes an outbound frame as a JSON text frame.
func encodeFrame(frame models.Frame) ([]byte, error) {
	return json.Marshal(frame)
}
