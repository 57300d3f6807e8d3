package waitpoint

import "encoding/json"

type Type string

const (
	TypeManual   Type = "MANUAL"
	TypeDateTime Type = "DATETIME"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// timeoutOutput is the payload stored when a waitpoint completes because its
// deadline fired instead of an explicit completion.
type timeoutOutput struct {
	IsTimeout bool   `json:"isTimeout"`
	Message   string `json:"message,omitempty"`
}

// TimeoutOutput builds the timeout marker payload.
func TimeoutOutput(message string) []byte {
	b, _ := json.Marshal(timeoutOutput{IsTimeout: true, Message: message})
	return b
}

// IsTimeoutOutput reports whether output is the timeout marker produced by
// TimeoutOutput.
func IsTimeoutOutput(output []byte) bool {
	if len(output) == 0 {
		return false
	}
	var parsed timeoutOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return false
	}
	return parsed.IsTimeout
}
