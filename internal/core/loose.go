package core

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Model output is not strict about scalar types: "450", 450 and "450 kcal"
// all show up for the same field. These types accept any of them.

type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = looseString(t)
	case float64:
		*s = looseString(strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		*s = looseString(strconv.FormatBool(t))
	default:
		*s = looseString(strings.TrimSpace(string(b)))
	}
	return nil
}

type looseFloat float64

var leadingNumber = regexp.MustCompile(`-?\d+(\.\d+)?`)

func (f *looseFloat) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*f = looseFloat(t)
	case string:
		n, _ := strconv.ParseFloat(leadingNumber.FindString(strings.ReplaceAll(t, ",", "")), 64)
		*f = looseFloat(n)
	default:
		*f = 0
	}
	return nil
}
