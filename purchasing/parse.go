package purchasing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAGINATION
// =============================================================================

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var integerRe = regexp.MustCompile(integerPattern)

// =============================================================================
// ENTRY POINTS
// =============================================================================

// ParseCreate validates a create payload.
func ParseCreate(body []byte) (CreateInput, error) {
	m, err := decodeAndValidate(schemaCreate, body)
	if err != nil {
		return CreateInput{}, err
	}

	in := CreateInput{
		Agency:      Agency(str(m, "agency")),
		Type:        RequestType(str(m, "type")),
		Title:       strings.TrimSpace(str(m, "title")),
		Description: str(m, "description"),
		Priority:    PriorityNormal,
		Currency:    "MAD",
		NeededBy:    str(m, "needed_by"),
	}
	if p := str(m, "priority"); p != "" {
		in.Priority = Priority(p)
	}
	if c := str(m, "currency"); c != "" {
		in.Currency = c
	}
	if b, ok := m["submit"].(bool); ok {
		in.Submit = b
	}

	if in.RequesterID, err = toInt64(m["requester_id"]); err != nil {
		return CreateInput{}, fieldError("requester_id", err.Error())
	}
	if in.EstimatedAmount, err = toDecimal(m["estimated_amount"]); err != nil {
		return CreateInput{}, fieldError("estimated_amount", err.Error())
	}
	if err := checkDate(in.NeededBy); err != nil {
		return CreateInput{}, fieldError("needed_by", err.Error())
	}
	return in, nil
}

// ParseUpdate validates a partial update payload.
func ParseUpdate(body []byte) (UpdateInput, error) {
	m, err := decodeAndValidate(schemaUpdate, body)
	if err != nil {
		return UpdateInput{}, err
	}

	var in UpdateInput
	if v, ok := m["agency"].(string); ok {
		a := Agency(v)
		in.Agency = &a
	}
	if v, ok := m["type"].(string); ok {
		t := RequestType(v)
		in.Type = &t
	}
	if v, ok := m["title"].(string); ok {
		v = strings.TrimSpace(v)
		in.Title = &v
	}
	if v, ok := m["description"].(string); ok {
		in.Description = &v
	}
	if v, ok := m["priority"].(string); ok {
		p := Priority(v)
		in.Priority = &p
	}
	if v, ok := m["currency"].(string); ok {
		in.Currency = &v
	}
	if v, ok := m["status"].(string); ok {
		s := Status(v)
		in.Status = &s
	}
	if raw, ok := m["estimated_amount"]; ok {
		d, err := toDecimal(raw)
		if err != nil {
			return UpdateInput{}, fieldError("estimated_amount", err.Error())
		}
		in.EstimatedAmount = &d
	}
	if v, ok := m["needed_by"].(string); ok {
		if err := checkDate(v); err != nil {
			return UpdateInput{}, fieldError("needed_by", err.Error())
		}
		in.NeededBy = &v
	}
	return in, nil
}

// ParseListQuery validates list query parameters. page and limit arrive as
// strings and are coerced to integers before validation.
func ParseListQuery(values url.Values) (ListQuery, error) {
	m := make(map[string]any, len(values))
	for key := range values {
		v := values.Get(key)
		if (key == "page" || key == "limit") && integerRe.MatchString(v) {
			m[key] = json.Number(v)
			continue
		}
		m[key] = v
	}

	s, err := schemaFor(schemaList)
	if err != nil {
		return ListQuery{}, err
	}
	if err := s.Validate(m); err != nil {
		return ListQuery{}, fromSchemaError(err)
	}

	q := ListQuery{
		Agency: Agency(str(m, "agency")),
		Type:   RequestType(str(m, "type")),
		Status: Status(str(m, "status")),
		Page:   1,
		Limit:  DefaultLimit,
	}
	if n, ok := m["page"].(json.Number); ok {
		q.Page, _ = strconv.Atoi(string(n))
	}
	if n, ok := m["limit"].(json.Number); ok {
		q.Limit, _ = strconv.Atoi(string(n))
	}
	return q, nil
}

// ParseValidate validates an approve/reject payload. Rejections need a comment.
func ParseValidate(body []byte) (ValidateInput, error) {
	m, err := decodeAndValidate(schemaValidate, body)
	if err != nil {
		return ValidateInput{}, err
	}
	return ValidateInput{
		Decision: Status(str(m, "decision")),
		Comment:  strings.TrimSpace(str(m, "comment")),
	}, nil
}

// ParseID coerces a path identifier such as "12" to a positive integer.
func ParseID(s string) (int64, error) {
	id, err := toInt64(s)
	if err != nil {
		return 0, fieldError("id", err.Error())
	}
	return id, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeAndValidate(name schemaName, body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fieldError("body", "malformed JSON: "+err.Error())
	}

	s, err := schemaFor(name)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(v); err != nil {
		return nil, fromSchemaError(err)
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, fieldError("body", "expected a JSON object")
	}
	return m, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func toInt64(v any) (int64, error) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = string(t)
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = string(t)
	case string:
		s = strings.TrimSpace(t)
	default:
		return decimal.Zero, fmt.Errorf("expected a number, got %T", v)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func checkDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return fmt.Errorf("%q is not a valid YYYY-MM-DD date", s)
	}
	return nil
}
