// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package protocol defines the messages exchanged between the host and a
// plugin process and the gRPC service that carries them.
//
// Three unidirectional channels connect the two sides: commands flow
// host to child, results and status updates flow child to host. Every
// message is a structured envelope with a "type" discriminator.
package protocol

import (
	"time"
)

// CommandType discriminates commands.
type CommandType string

// Command types.
const (
	CommandStop    CommandType = "stop"
	CommandTrigger CommandType = "trigger"
)

// Command is sent from the host to a plugin process.
type Command struct {
	Type    CommandType
	ReqID   string
	EntryID string
	Args    map[string]any
}

// Stop returns the stop command.
func Stop() Command {
	return Command{Type: CommandStop}
}

// Trigger returns a trigger command for entryID.
func Trigger(reqID, entryID string, args map[string]any) Command {
	return Command{Type: CommandTrigger, ReqID: reqID, EntryID: entryID, Args: args}
}

// Result answers exactly one trigger command.
type Result struct {
	ReqID   string
	Success bool
	Data    any
	// Error is the handler's error message when Success is false.
	Error string
	// ErrorCode classifies a failure (HANDLER_NOT_FOUND, HANDLER_EXCEPTION,
	// INVALID_ARGS).
	ErrorCode string
}

// Source tells where a status update originated.
type Source string

// Status sources.
const (
	// SourceLocal marks updates produced by the host itself.
	SourceLocal Source = "local"
	// SourceProcess marks updates relayed from a plugin process.
	SourceProcess Source = "process"
)

// StatusUpdate is an out-of-band report of a plugin's operational state.
type StatusUpdate struct {
	PluginID string
	Data     any
	Time     time.Time
	Source   Source
}

// Failure codes carried by Result.ErrorCode.
const (
	CodeHandlerNotFound  = "HANDLER_NOT_FOUND"
	CodeHandlerException = "HANDLER_EXCEPTION"
	CodeInvalidArgs      = "INVALID_ARGS"
)
