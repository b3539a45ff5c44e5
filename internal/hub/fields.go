package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// errPayload marks a well-formed message whose fields cannot be used.
var errPayload = errors.New("invalid payload")

func payloadErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errPayload, fmt.Sprintf(format, args...))
}

// fields is the decoded body of one inbound message.
type fields map[string]json.RawMessage

// parseMessage splits data into its type and fields. The returned string
// is an error message for the session when the message is unusable.
func parseMessage(data []byte) (string, fields, string) {
	if !json.Valid(data) {
		return "", nil, MsgInvalidJSON
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", nil, MsgNotObject
	}
	var f fields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return "", nil, MsgNotObject
	}
	var typ string
	if raw, ok := f["type"]; ok {
		_ = json.Unmarshal(raw, &typ)
	}
	return typ, f, ""
}

func (f fields) has(key string) bool {
	raw, ok := f[key]
	return ok && string(raw) != "null"
}

// float accepts a JSON number or a numeric string.
func (f fields) float(key string) (float64, error) {
	raw, ok := f[key]
	if !ok {
		return 0, payloadErr("missing %s", key)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, payloadErr("%s must be a number", key)
		}
		n = json.Number(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(n), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, payloadErr("%s must be a number", key)
	}
	return v, nil
}

func (f fields) floatOr(key string, def float64) (float64, error) {
	if !f.has(key) {
		return def, nil
	}
	return f.float(key)
}

func (f fields) optFloat(key string) (*float64, error) {
	if !f.has(key) {
		return nil, nil
	}
	v, err := f.float(key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// bool accepts true/false or 0/1.
func (f fields) bool(key string) (bool, error) {
	raw, ok := f[key]
	if !ok {
		return false, payloadErr("missing %s", key)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		switch n.String() {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
	}
	return false, payloadErr("%s must be a boolean or 0/1", key)
}

func (f fields) optBool(key string) (*bool, error) {
	if !f.has(key) {
		return nil, nil
	}
	v, err := f.bool(key)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (f fields) string(key string) (string, error) {
	raw, ok := f[key]
	if !ok {
		return "", payloadErr("missing %s", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", payloadErr("%s must be a string", key)
	}
	return s, nil
}

func (f fields) optString(key string) (*string, error) {
	if !f.has(key) {
		return nil, nil
	}
	s, err := f.string(key)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// text accepts a string or a number and returns its text, so a console
// master may be given as "3.1" or 3.1.
func text(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// port accepts an integral number or numeric string.
func (f fields) port(key string) (int, error) {
	v, err := f.float(key)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, payloadErr("%s must be an integer", key)
	}
	return int(v), nil
}
