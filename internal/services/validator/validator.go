package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Egham-7/tokentra/internal/models"
	"github.com/google/uuid"
)

const (
	defaultSDKVersion  = "1.0.0"
	defaultSDKLanguage = "typescript"
)

// Result is the outcome of validating one raw event. Event is set only when
// Valid is true and has schema defaults applied.
type Result struct {
	Valid  bool                     `json:"valid"`
	Event  *models.TelemetryPayload `json:"event,omitempty"`
	Errors []string                 `json:"errors,omitempty"`
}

// IndexedErrors reports the field errors of the event at Index.
type IndexedErrors struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

// BatchResult splits a batch into accepted events and rejected indexes.
type BatchResult struct {
	Valid   []Result        `json:"valid"`
	Invalid []IndexedErrors `json:"invalid"`
}

// datetimePattern accepts UTC timestamps only; offsets are rejected.
var datetimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z$`)

type kind int

const (
	kindString kind = iota
	kindInt
	kindNumber
	kindBool
	kindObject
)

func (k kind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindInt, kindNumber:
		return "number"
	case kindBool:
		return "boolean"
	default:
		return "object"
	}
}

type fieldRule struct {
	name     string
	kind     kind
	required bool
	minLen   int
	maxLen   int
	enum     []string
	format   string
}

// rules are checked in declaration order so error lists are stable.
var rules = []fieldRule{
	{name: "request_id", kind: kindString, format: "uuid"},
	{name: "timestamp", kind: kindString, format: "datetime"},
	{name: "provider", kind: kindString, required: true, enum: models.Providers},
	{name: "model", kind: kindString, required: true, minLen: 1, maxLen: 100},

	{name: "input_tokens", kind: kindInt, required: true},
	{name: "output_tokens", kind: kindInt, required: true},
	{name: "cached_tokens", kind: kindInt},

	{name: "input_cost", kind: kindNumber},
	{name: "output_cost", kind: kindNumber},
	{name: "cached_cost", kind: kindNumber},
	{name: "total_cost", kind: kindNumber},

	{name: "latency_ms", kind: kindInt},
	{name: "time_to_first_token_ms", kind: kindInt},

	{name: "feature", kind: kindString, maxLen: 100},
	{name: "team", kind: kindString, maxLen: 100},
	{name: "project", kind: kindString, maxLen: 100},
	{name: "cost_center", kind: kindString, maxLen: 100},
	{name: "user_id", kind: kindString, maxLen: 100},
	{name: "environment", kind: kindString, enum: models.Environments},
	{name: "metadata", kind: kindObject},

	{name: "was_cached", kind: kindBool},
	{name: "cache_hit_type", kind: kindString, enum: models.CacheHitTypes},
	{name: "original_model", kind: kindString, maxLen: 100},
	{name: "routed_by_rule", kind: kindString, maxLen: 100},

	{name: "is_error", kind: kindBool},
	{name: "error_code", kind: kindString, maxLen: 100},
	{name: "error_type", kind: kindString, enum: models.ErrorTypes},
	{name: "error_message", kind: kindString, maxLen: 1000},

	{name: "prompt_hash", kind: kindString, maxLen: 64},

	{name: "sdk_version", kind: kindString, maxLen: 20},
	{name: "sdk_language", kind: kindString, enum: models.SDKLanguages},

	{name: "is_streaming", kind: kindBool},
	{name: "method_path", kind: kindString, maxLen: 100},
}

// Validate checks one raw JSON event. Per-field failures are reported as
// "<field>: <message>"; unknown fields are ignored.
func Validate(raw []byte) Result {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Result{Errors: []string{": Expected object"}}
	}

	var errs []string
	for _, rule := range rules {
		if msg := rule.check(fields); msg != "" {
			errs = append(errs, rule.name+": "+msg)
		}
	}
	if len(errs) > 0 {
		return Result{Errors: errs}
	}

	// integral floats such as 5.0 are integers and must decode into int64
	if canonicalizeInts(fields) {
		var err error
		if raw, err = json.Marshal(fields); err != nil {
			return Result{Errors: []string{fmt.Sprintf(": %v", err)}}
		}
	}

	var event models.TelemetryPayload
	if err := json.Unmarshal(raw, &event); err != nil {
		return Result{Errors: []string{fmt.Sprintf(": %v", err)}}
	}
	applyDefaults(&event)

	return Result{Valid: true, Event: &event}
}

// ValidateBatch validates each event independently; one bad event never
// rejects the others.
func ValidateBatch(events []json.RawMessage) BatchResult {
	out := BatchResult{
		Valid:   make([]Result, 0, len(events)),
		Invalid: []IndexedErrors{},
	}
	for i, raw := range events {
		res := Validate(raw)
		if res.Valid {
			out.Valid = append(out.Valid, res)
			continue
		}
		out.Invalid = append(out.Invalid, IndexedErrors{Index: i, Errors: res.Errors})
	}
	return out
}

func (r fieldRule) check(fields map[string]any) string {
	v, present := fields[r.name]
	if !present || v == nil {
		if r.required {
			return "Required"
		}
		return ""
	}

	switch r.kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("Expected string, received %s", typeName(v))
		}
		return r.checkString(s)

	case kindInt, kindNumber:
		n, ok := v.(json.Number)
		if !ok {
			return fmt.Sprintf("Expected number, received %s", typeName(v))
		}
		if r.kind == kindInt {
			f, err := n.Float64()
			if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
				return "Expected integer, received float"
			}
			if f < 0 {
				return "Number must be greater than or equal to 0"
			}
			if f >= math.MaxInt64 {
				return "Number must be less than or equal to 9223372036854775807"
			}
			return ""
		}
		f, err := n.Float64()
		if err != nil {
			return "Expected number, received nan"
		}
		if f < 0 {
			return "Number must be greater than or equal to 0"
		}

	case kindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("Expected boolean, received %s", typeName(v))
		}

	case kindObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("Expected object, received %s", typeName(v))
		}
	}
	return ""
}

func (r fieldRule) checkString(s string) string {
	if len(r.enum) > 0 {
		for _, allowed := range r.enum {
			if s == allowed {
				return ""
			}
		}
		return fmt.Sprintf("Invalid enum value. Expected '%s', received '%s'", strings.Join(r.enum, "' | '"), s)
	}

	n := len([]rune(s))
	if r.minLen > 0 && n < r.minLen {
		return fmt.Sprintf("String must contain at least %d character(s)", r.minLen)
	}
	if r.maxLen > 0 && n > r.maxLen {
		return fmt.Sprintf("String must contain at most %d character(s)", r.maxLen)
	}

	switch r.format {
	case "uuid":
		if _, err := uuid.Parse(s); err != nil || len(s) != 36 {
			return "Invalid uuid"
		}
	case "datetime":
		if !datetimePattern.MatchString(s) {
			return "Invalid datetime"
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return "Invalid datetime"
		}
	}
	return ""
}

// canonicalizeInts rewrites integer fields written in float notation to
// plain integer literals and reports whether anything changed.
func canonicalizeInts(fields map[string]any) bool {
	changed := false
	for _, r := range rules {
		if r.kind != kindInt {
			continue
		}
		n, ok := fields[r.name].(json.Number)
		if !ok {
			continue
		}
		if _, err := n.Int64(); err == nil {
			continue
		}
		f, _ := n.Float64()
		fields[r.name] = json.Number(strconv.FormatInt(int64(f), 10))
		changed = true
	}
	return changed
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

func applyDefaults(e *models.TelemetryPayload) {
	if e.SDKVersion == "" {
		e.SDKVersion = defaultSDKVersion
	}
	if e.SDKLanguage == "" {
		e.SDKLanguage = defaultSDKLanguage
	}
}

// Normalize fills the server-side defaults: request id, timestamp,
// environment, metadata and SDK identity. Normalizing twice yields the same
// payload.
func Normalize(e models.TelemetryPayload) models.TelemetryPayload {
	return NormalizeAt(e, time.Now())
}

// NormalizeAt is Normalize with an explicit clock.
func NormalizeAt(e models.TelemetryPayload, now time.Time) models.TelemetryPayload {
	if e.RequestID == "" {
		e.RequestID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = now.UTC().Format(models.TimestampLayout)
	}
	if e.Environment == "" {
		e.Environment = models.DefaultEnvironment
	}
	if e.Metadata == nil {
		e.Metadata = models.Metadata{}
	}
	if e.LatencyMs < 0 {
		e.LatencyMs = 0
	}
	applyDefaults(&e)
	return e
}
