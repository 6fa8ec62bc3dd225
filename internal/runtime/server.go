// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/holomush/plughost/internal/protocol"
)

// Server exposes a Runtime as the gRPC runtime service.
type Server struct {
	rt      *Runtime
	log     *slog.Logger
	streams sync.WaitGroup
}

// NewServer wraps rt.
func NewServer(rt *Runtime) *Server {
	return &Server{rt: rt, log: rt.log}
}

// Send implements protocol.RuntimeServer.
func (s *Server) Send(_ context.Context, env *structpb.Struct) (*emptypb.Empty, error) {
	cmd, err := protocol.DecodeCommand(env)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.rt.Enqueue(cmd); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Results implements protocol.RuntimeServer. The stream ends once the
// runtime has stopped and every buffered result was sent.
func (s *Server) Results(_ *emptypb.Empty, stream protocol.EnvelopeStream) error {
	s.streams.Add(1)
	defer s.streams.Done()
	return pump(stream, s.rt.Results(), s.rt.Done(), func(res protocol.Result) (*structpb.Struct, error) {
		return protocol.EncodeResult(res), nil
	}, s.log)
}

// Status implements protocol.RuntimeServer.
func (s *Server) Status(_ *emptypb.Empty, stream protocol.EnvelopeStream) error {
	s.streams.Add(1)
	defer s.streams.Done()
	return pump(stream, s.rt.Status(), s.rt.Done(), protocol.EncodeStatus, s.log)
}

// Wait blocks until open streams have finished or d elapses.
func (s *Server) Wait(d time.Duration) bool {
	return waitTimeout(&s.streams, d)
}

func pump[T any](stream protocol.EnvelopeStream, src <-chan T, done <-chan struct{}, encode func(T) (*structpb.Struct, error), log *slog.Logger) error {
	send := func(v T) error {
		env, err := encode(v)
		if err != nil {
			log.Warn("dropping unencodable message", "error", err)
			return nil
		}
		return stream.Send(env)
	}
	for {
		select {
		case v := <-src:
			if err := send(v); err != nil {
				return err
			}
		case <-done:
			for {
				select {
				case v := <-src:
					if err := send(v); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}
