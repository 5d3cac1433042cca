package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Param is a single request input kept in a Params bag.
type Param struct {
	Key   string
	Value any
}

// Params is an insertion-ordered bag of request inputs. Values are strings,
// numbers (int64 or float64), booleans or nil. It is stored and echoed as a
// JSON object whose keys keep their original order.
type Params struct {
	entries []Param
}

func NewParams(entries ...Param) Params {
	var p Params
	for _, e := range entries {
		p.Set(e.Key, e.Value)
	}
	return p
}

// Set replaces the value of an existing key in place or appends a new key.
func (p *Params) Set(key string, value any) {
	for i := range p.entries {
		if p.entries[i].Key == key {
			p.entries[i].Value = value
			return
		}
	}
	p.entries = append(p.entries, Param{Key: key, Value: value})
}

func (p Params) Get(key string) (any, bool) {
	for _, e := range p.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// String returns the value of key formatted as a string, or "" when absent.
func (p Params) String(key string) string {
	v, ok := p.Get(key)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func (p Params) Len() int { return len(p.entries) }

func (p Params) Entries() []Param {
	out := make([]Param, len(p.entries))
	copy(out, p.entries)
	return out
}

func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("params: key %q: %w", e.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var errNestedParam = errors.New("params: nested values are not supported")

func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		p.entries = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("params: expected object, got %v", tok)
	}

	p.entries = nil
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("params: unexpected key %v", kt)
		}
		vt, err := dec.Token()
		if err != nil {
			return err
		}
		switch v := vt.(type) {
		case json.Delim:
			return errNestedParam
		case json.Number:
			if i, err := v.Int64(); err == nil {
				p.Set(key, i)
			} else {
				f, err := v.Float64()
				if err != nil {
					return fmt.Errorf("params: key %q: %w", key, err)
				}
				p.Set(key, f)
			}
		default:
			p.Set(key, v)
		}
	}
	_, err = dec.Token()
	return err
}

// Value stores the bag as JSON text.
func (p Params) Value() (driver.Value, error) {
	b, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *Params) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		p.entries = nil
		return nil
	case string:
		return p.UnmarshalJSON([]byte(v))
	case []byte:
		return p.UnmarshalJSON(v)
	default:
		return fmt.Errorf("params: cannot scan %T", src)
	}
}
