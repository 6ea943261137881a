package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// count is a lenient non-negative integer field. Numbers and numeric strings
// are accepted and floored. Anything else, including negative values,
// booleans and objects, reads as zero.
// Set reports whether a usable value was supplied.
type count struct {
	Value int64
	Set   bool
}

func (c *count) UnmarshalJSON(data []byte) error {
	*c = count{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	var f float64
	switch v := raw.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return nil
	}
	c.Value = int64(math.Floor(f))
	c.Set = true
	return nil
}

func (c count) ptr() *int64 {
	if !c.Set {
		return nil
	}
	v := c.Value
	return &v
}

// commaList accepts either a JSON array of strings or one comma separated
// string.
type commaList []string

func (l *commaList) UnmarshalJSON(data []byte) error {
	*l = nil
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = strings.Split(one, ",")
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected a string or an array of strings")
	}
	*l = many
	return nil
}

// idList accepts an array of ids or a single id; ids may be strings or
// numbers.
type idList []string

func (l *idList) UnmarshalJSON(data []byte) error {
	*l = nil
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case json.Number:
			out = append(out, v.String())
		default:
			return fmt.Errorf("ids must be strings or numbers")
		}
	}
	*l = out
	return nil
}
