package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// ErrInvalidPayload is returned when a payload is not a UTF-8 JSON object.
var ErrInvalidPayload = errors.New("protocol: invalid payload")

// Payload is the JSON object carried by a frame. Values are whatever the
// JSON decoder produced: float64, string, bool, nil, []any, map[string]any.
type Payload map[string]any

// codec sorts map keys so encoded frames are deterministic.
var codec = sonic.ConfigStd

// Marshal encodes a payload as compact JSON.
func Marshal(p Payload) ([]byte, error) {
	return codec.Marshal(p)
}

// Unmarshal decodes a JSON object. Invalid UTF-8, non-object JSON and
// syntax errors all return ErrInvalidPayload.
func Unmarshal(data []byte) (Payload, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidPayload)
	}
	var p Payload
	if err := codec.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalidPayload)
	}
	return p, nil
}

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Has reports whether key is present.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Int returns key as an int. JSON numbers decode as float64 and are truncated.
func (p Payload) Int(key string) (int, bool) {
	switch v := p[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(n), true
	}
	return 0, false
}

// Float returns key as a float64.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// String returns key as a string.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Bool returns key as a bool.
func (p Payload) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// Strings returns key as a string slice, skipping non-string elements.
func (p Payload) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// RetCode returns the robot's ret_code, or -1 when it is missing.
func (p Payload) RetCode() int {
	if n, ok := p.Int("ret_code"); ok {
		return n
	}
	return -1
}

// OK reports whether the robot accepted the request (ret_code == 0).
func (p Payload) OK() bool {
	return p != nil && p.RetCode() == 0
}

// ErrMsg returns the robot's error message if any.
func (p Payload) ErrMsg() string {
	if s, ok := p.String("err_msg"); ok && s != "" {
		return s
	}
	s, _ := p.String("msg")
	return s
}

// RobotError is an application-level rejection reported via ret_code.
type RobotError struct {
	Command string
	Code    int
	Message string
}

func (e *RobotError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: robot returned ret_code %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s: robot returned ret_code %d: %s", e.Command, e.Code, e.Message)
}

// CheckRetCode converts a non-zero ret_code into a *RobotError.
func CheckRetCode(command string, p Payload) error {
	if p.OK() {
		return nil
	}
	return &RobotError{Command: command, Code: p.RetCode(), Message: p.ErrMsg()}
}
