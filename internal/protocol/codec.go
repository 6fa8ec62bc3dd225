// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/oops"
	"google.golang.org/protobuf/types/known/structpb"
)

// Envelope type tags.
const (
	typeStop    = "stop"
	typeTrigger = "trigger"
	typeResult  = "result"
	typeStatus  = "status"
)

// maxExactInt is the largest integer magnitude a float64 holds exactly.
const maxExactInt = 1 << 53

// Normalize converts v into its JSON-compatible form: maps become
// map[string]any, slices become []any and numbers become float64. Values
// that cannot be represented as JSON are an error, and so are integers
// beyond ±2^53, which a float64 cannot carry without losing precision.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, oops.In("protocol").Wrapf(err, "value of type %T is not JSON-compatible", v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, oops.In("protocol").Wrapf(err, "normalize %T", v)
	}
	return toFloats(out)
}

// toFloats replaces every json.Number in v with its float64 value.
func toFloats(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if strings.ContainsAny(val.String(), ".eE") {
			f, err := val.Float64()
			if err != nil {
				return nil, oops.In("protocol").With("value", val.String()).Wrapf(err, "number out of range")
			}
			return f, nil
		}
		i, err := val.Int64()
		if err != nil || i > maxExactInt || i < -maxExactInt {
			return nil, oops.In("protocol").With("value", val.String()).Errorf("integer %s exceeds the exact float64 range", val)
		}
		return float64(i), nil
	case map[string]any:
		for k, item := range val {
			conv, err := toFloats(item)
			if err != nil {
				return nil, err
			}
			val[k] = conv
		}
		return val, nil
	case []any:
		for i, item := range val {
			conv, err := toFloats(item)
			if err != nil {
				return nil, err
			}
			val[i] = conv
		}
		return val, nil
	default:
		return v, nil
	}
}

func toValue(v any) (*structpb.Value, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	val, err := structpb.NewValue(n)
	if err != nil {
		return nil, oops.In("protocol").Wrapf(err, "encode value")
	}
	return val, nil
}

// EncodeCommand turns a command into its wire envelope.
func EncodeCommand(c Command) (*structpb.Struct, error) {
	switch c.Type {
	case CommandStop:
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"type": structpb.NewStringValue(typeStop),
		}}, nil
	case CommandTrigger:
		args, err := toValue(map[string]any(c.Args))
		if err != nil {
			return nil, oops.In("protocol").With("req_id", c.ReqID).With("entry_id", c.EntryID).Wrap(err)
		}
		if c.Args == nil {
			args = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{}})
		}
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"type":     structpb.NewStringValue(typeTrigger),
			"req_id":   structpb.NewStringValue(c.ReqID),
			"entry_id": structpb.NewStringValue(c.EntryID),
			"args":     args,
		}}, nil
	default:
		return nil, oops.In("protocol").With("type", c.Type).Errorf("unknown command type")
	}
}

// DecodeCommand parses a command envelope.
func DecodeCommand(s *structpb.Struct) (Command, error) {
	fields := s.GetFields()
	switch t := fields["type"].GetStringValue(); t {
	case typeStop:
		return Stop(), nil
	case typeTrigger:
		reqID := fields["req_id"].GetStringValue()
		if reqID == "" {
			return Command{}, oops.In("protocol").Errorf("trigger without req_id")
		}
		args := fields["args"].GetStructValue().AsMap()
		if args == nil {
			args = map[string]any{}
		}
		return Trigger(reqID, fields["entry_id"].GetStringValue(), args), nil
	default:
		return Command{}, oops.In("protocol").With("type", t).Errorf("unknown command type")
	}
}

// EncodeResult turns a result into its wire envelope. Data that cannot be
// encoded turns the result into a failure carrying the encoding error, so a
// trigger always receives an answer.
func EncodeResult(r Result) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"type":    structpb.NewStringValue(typeResult),
		"req_id":  structpb.NewStringValue(r.ReqID),
		"success": structpb.NewBoolValue(r.Success),
	}
	if r.Success {
		data, err := toValue(r.Data)
		if err != nil {
			fields["success"] = structpb.NewBoolValue(false)
			fields["error"] = structpb.NewStringValue(err.Error())
			fields["error_code"] = structpb.NewStringValue(CodeHandlerException)
			return &structpb.Struct{Fields: fields}
		}
		fields["data"] = data
		return &structpb.Struct{Fields: fields}
	}
	fields["error"] = structpb.NewStringValue(r.Error)
	if r.ErrorCode != "" {
		fields["error_code"] = structpb.NewStringValue(r.ErrorCode)
	}
	return &structpb.Struct{Fields: fields}
}

// DecodeResult parses a result envelope.
func DecodeResult(s *structpb.Struct) (Result, error) {
	fields := s.GetFields()
	if t := fields["type"].GetStringValue(); t != typeResult {
		return Result{}, oops.In("protocol").With("type", t).Errorf("not a result envelope")
	}
	r := Result{
		ReqID:     fields["req_id"].GetStringValue(),
		Success:   fields["success"].GetBoolValue(),
		Error:     fields["error"].GetStringValue(),
		ErrorCode: fields["error_code"].GetStringValue(),
	}
	if r.ReqID == "" {
		return Result{}, oops.In("protocol").Errorf("result without req_id")
	}
	if v, ok := fields["data"]; ok {
		r.Data = v.AsInterface()
	}
	return r, nil
}

// EncodeStatus turns a status update into its wire envelope.
func EncodeStatus(u StatusUpdate) (*structpb.Struct, error) {
	data, err := toValue(u.Data)
	if err != nil {
		return nil, oops.In("protocol").With("plugin", u.PluginID).Wrap(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"type":      structpb.NewStringValue(typeStatus),
		"plugin_id": structpb.NewStringValue(u.PluginID),
		"data":      data,
		"time":      structpb.NewStringValue(u.Time.UTC().Format(time.RFC3339Nano)),
		"source":    structpb.NewStringValue(string(u.Source)),
	}}, nil
}

// DecodeStatus parses a status envelope.
func DecodeStatus(s *structpb.Struct) (StatusUpdate, error) {
	fields := s.GetFields()
	if t := fields["type"].GetStringValue(); t != typeStatus {
		return StatusUpdate{}, oops.In("protocol").With("type", t).Errorf("not a status envelope")
	}
	ts, err := time.Parse(time.RFC3339Nano, fields["time"].GetStringValue())
	if err != nil {
		return StatusUpdate{}, oops.In("protocol").Wrapf(err, "status time")
	}
	return StatusUpdate{
		PluginID: fields["plugin_id"].GetStringValue(),
		Data:     fields["data"].AsInterface(),
		Time:     ts,
		Source:   Source(fields["source"].GetStringValue()),
	}, nil
}
