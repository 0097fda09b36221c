package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Param is a single named invocation argument.
type Param struct {
	Key   string `json:"key" bson:"key"`
	Value string `json:"value" bson:"value"`
}

// Params keeps invocation arguments in their declared order. The keys are
// informational only, the values are passed to the invoked method
// positionally in this order.
type Params []Param

// ParamsOf builds Params from key, value pairs.
func ParamsOf(kv ...string) Params {
	if len(kv)%2 != 0 {
		panic("model: ParamsOf requires key, value pairs")
	}
	ret := make(Params, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		ret = append(ret, Param{Key: kv[i], Value: kv[i+1]})
	}
	return ret
}

// Values projects the params to a positional argument list.
func (p Params) Values() []string {
	ret := make([]string, len(p))
	for i, param := range p {
		ret[i] = param.Value
	}
	return ret
}

// Get returns the value of the first param named key.
func (p Params) Get(key string) (string, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return "", false
}

// Set replaces the value of key in place or appends it.
func (p *Params) Set(key, value string) {
	for i := range *p {
		if (*p)[i].Key == key {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Param{Key: key, Value: value})
}

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return append(Params(nil), p...)
}

// MarshalJSON encodes params as a JSON object preserving the order.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(param.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(param.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the document order of its keys.
// Non-string scalar values are kept in their JSON text form.
func (p *Params) UnmarshalJSON(b []byte) error {
	if p == nil {
		return errors.New("can't unmarshal to nil")
	}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*p = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("params: expected JSON object, got %v", tok)
	}

	ret := Params{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("params: expected key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("params: value of %q: %w", key, err)
		}
		value, err := scalar(raw)
		if err != nil {
			return fmt.Errorf("params: value of %q: %w", key, err)
		}
		ret = append(ret, Param{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = ret
	return nil
}

func scalar(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", errors.New("empty value")
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case '{', '[':
		return "", errors.New("nested values are not supported")
	default:
		if bytes.Equal(raw, []byte("null")) {
			return "", nil
		}
		return string(raw), nil
	}
}
