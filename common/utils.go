package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const RequestIdKey = "X-Relayhub-Request-Id"

func GetTimestamp() int64 {
	return time.Now().Unix()
}

func GetRequestId() string {
	return uuid.New().String()
}

func MessageWithRequestId(message string, id string) string {
	if id == "" {
		return message
	}
	return fmt.Sprintf("%s (request id: %s)", message, id)
}

func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
