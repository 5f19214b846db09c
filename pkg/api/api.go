package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nexd-io/nexd/pkg/jsonrpc"
	"github.com/nexd-io/nexd/pkg/log"
	"github.com/nexd-io/nexd/pkg/nexus"
	"github.com/nexd-io/nexd/pkg/types"
)

// Method names of the control surface.
const (
	MethodCreateNexus     = "create_nexus"
	MethodDestroyNexus    = "destroy_nexus"
	MethodListNexus       = "list_nexus"
	MethodPublishNexus    = "publish_nexus"
	MethodUnpublishNexus  = "unpublish_nexus"
	MethodAddChild        = "add_child"
	MethodRemoveChild     = "remove_child"
	MethodChildOperation  = "child_operation"
	MethodMarkChildSynced = "mark_child_synced"
)

// Service binds the control surface onto a registry.
type Service struct {
	registry *nexus.Registry
	logger   zerolog.Logger
}

// NewService creates the control service.
func NewService(r *nexus.Registry) *Service {
	return &Service{
		registry: r,
		logger:   log.WithComponent("api"),
	}
}

// Register installs every method on the server.
func (s *Service) Register(srv *jsonrpc.Server) {
	srv.Handle(MethodCreateNexus, s.createNexus)
	srv.Handle(MethodDestroyNexus, s.destroyNexus)
	srv.Handle(MethodListNexus, s.listNexus)
	srv.Handle(MethodPublishNexus, s.publishNexus)
	srv.Handle(MethodUnpublishNexus, s.unpublishNexus)
	srv.Handle(MethodAddChild, s.addChild)
	srv.Handle(MethodRemoveChild, s.removeChild)
	srv.Handle(MethodChildOperation, s.childOperation)
	srv.Handle(MethodMarkChildSynced, s.markChildSynced)
}

// decode unmarshals params, mapping malformed payloads onto the invalid
// params wire code.
func decode(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return fmt.Errorf("missing params: %w", jsonrpc.ErrInvalidParams)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("malformed params: %v: %w", err, jsonrpc.ErrInvalidParams)
	}
	return nil
}

func (s *Service) createNexus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req types.CreateNexusRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("nexus", req.Name).
		Uint64("size", req.Size).
		Int("children", len(req.Children)).
		Msg("create nexus")

	desc, err := s.registry.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return desc, nil
}

func (s *Service) destroyNexus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req types.DestroyNexusRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	s.logger.Info().Str("nexus", req.Name).Msg("destroy nexus")
	return nil, s.registry.Destroy(ctx, req.Name)
}

func (s *Service) listNexus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return types.ListNexusReply{Nexuses: s.registry.Descriptors()}, nil
}

func (s *Service) publishNexus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req types.PublishNexusRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	path, err := s.registry.Publish(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("nexus", req.Name).Str("device", path).Msg("nexus published")
	return types.PublishNexusReply{DevicePath: path}, nil
}

func (s *Service) unpublishNexus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req types.UnpublishNexusRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	s.logger.Info().Str("nexus", req.Name).Msg("unpublish nexus")
	return nil, s.registry.Unpublish(ctx, req.Name)
}

func (s *Service) addChild(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req types.AddChildRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	s.logger.Info().Str("nexus", req.Nexus).Str("child", req.URI).Msg("add child")
	return nil, s.registry.AddChild(ctx, req.Nexus, req.URI)
}

func (s *Service) removeChild(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req types.RemoveChildRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	s.logger.Info().Str("nexus", req.Nexus).Str("child", req.URI).Msg("remove child")
	return nil, s.registry.RemoveChild(ctx, req.Nexus, req.URI)
}

func (s *Service) childOperation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req types.ChildOperationRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	switch req.Action {
	case types.ChildActionOnline, types.ChildActionOffline, types.ChildActionFault:
	default:
		return nil, fmt.Errorf("unknown action %q: %w", req.Action, jsonrpc.ErrInvalidParams)
	}

	s.logger.Info().
		Str("nexus", req.Nexus).
		Str("child", req.URI).
		Str("action", string(req.Action)).
		Msg("child operation")

	return s.registry.ChildOperation(ctx, req.Nexus, req.URI, req.Action)
}

func (s *Service) markChildSynced(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req types.MarkChildSyncedRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}

	s.logger.Info().Str("nexus", req.Nexus).Str("child", req.URI).Msg("child synced")
	return nil, s.registry.MarkChildSynced(req.Nexus, req.URI)
}
