package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"connectrpc.com/grpcreflect"
	"github.com/mcdev12/livepoll/go/internal/models"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ClassroomServiceName is the fully-qualified name of the read-only RPC service.
	ClassroomServiceName = "livepoll.v1.ClassroomService"

	GetPollStatusProcedure  = "/livepoll.v1.ClassroomService/GetPollStatus"
	GetPollHistoryProcedure = "/livepoll.v1.ClassroomService/GetPollHistory"

	classroomProtoPath = "livepoll/v1/classroom.proto"
)

var (
	descriptorOnce sync.Once
	serviceDesc    protoreflect.ServiceDescriptor
	descriptorErr  error
)

// classroomServiceDescriptor registers the service schema with the global
// registry so reflection clients can describe it. The messages are the
// well-known Empty and Struct types.
func classroomServiceDescriptor() (protoreflect.ServiceDescriptor, error) {
	descriptorOnce.Do(func() {
		noSideEffects := &descriptorpb.MethodOptions{
			IdempotencyLevel: descriptorpb.MethodOptions_NO_SIDE_EFFECTS.Enum(),
		}
		fdp := &descriptorpb.FileDescriptorProto{
			Name:    proto.String(classroomProtoPath),
			Package: proto.String("livepoll.v1"),
			Syntax:  proto.String("proto3"),
			Dependency: []string{
				"google/protobuf/empty.proto",
				"google/protobuf/struct.proto",
			},
			Service: []*descriptorpb.ServiceDescriptorProto{{
				Name: proto.String("ClassroomService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("GetPollStatus"),
						InputType:  proto.String(".google.protobuf.Empty"),
						OutputType: proto.String(".google.protobuf.Struct"),
						Options:    noSideEffects,
					},
					{
						Name:       proto.String("GetPollHistory"),
						InputType:  proto.String(".google.protobuf.Empty"),
						OutputType: proto.String(".google.protobuf.Struct"),
						Options:    noSideEffects,
					},
				},
			}},
		}

		if existing, err := protoregistry.GlobalFiles.FindFileByPath(classroomProtoPath); err == nil {
			serviceDesc = existing.Services().ByName("ClassroomService")
			return
		}
		fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
		if err != nil {
			descriptorErr = fmt.Errorf("build classroom descriptor: %w", err)
			return
		}
		if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
			descriptorErr = fmt.Errorf("register classroom descriptor: %w", err)
			return
		}
		serviceDesc = fd.Services().ByName("ClassroomService")
	})
	return serviceDesc, descriptorErr
}

// ClassroomService answers read-only room queries over Connect, gRPC and
// gRPC-Web.
type ClassroomService struct {
	stateProvider StateProvider
}

func NewClassroomService(provider StateProvider) *ClassroomService {
	return &ClassroomService{stateProvider: provider}
}

func (s *ClassroomService) GetPollStatus(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	status, err := s.stateProvider.GetPollStatus(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	out, err := toStruct(status)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func (s *ClassroomService) GetPollHistory(ctx context.Context, req *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	records, err := s.stateProvider.GetPollHistory(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	if records == nil {
		records = []models.HistoryRecord{}
	}
	out, err := toStruct(map[string]interface{}{"polls": records})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// toStruct converts v through its JSON form so RPC clients see the same
// field names as REST clients.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return structpb.NewStruct(fields)
}

// NewClassroomServiceHandler returns the mount path and handler for the
// service, in the shape of generated connect code.
func NewClassroomServiceHandler(svc *ClassroomService, opts ...connect.HandlerOption) (string, http.Handler, error) {
	desc, err := classroomServiceDescriptor()
	if err != nil {
		return "", nil, err
	}
	methods := desc.Methods()

	statusHandler := connect.NewUnaryHandler(
		GetPollStatusProcedure,
		svc.GetPollStatus,
		connect.WithSchema(methods.ByName("GetPollStatus")),
		connect.WithIdempotency(connect.IdempotencyNoSideEffects),
		connect.WithHandlerOptions(opts...),
	)
	historyHandler := connect.NewUnaryHandler(
		GetPollHistoryProcedure,
		svc.GetPollHistory,
		connect.WithSchema(methods.ByName("GetPollHistory")),
		connect.WithIdempotency(connect.IdempotencyNoSideEffects),
		connect.WithHandlerOptions(opts...),
	)

	return "/" + ClassroomServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case GetPollStatusProcedure:
			statusHandler.ServeHTTP(w, r)
		case GetPollHistoryProcedure:
			historyHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	}), nil
}

// RegisterRPCRoutes mounts the service and server reflection for
// grpcurl/grpcui.
func RegisterRPCRoutes(mux *http.ServeMux, svc *ClassroomService) error {
	path, handler, err := NewClassroomServiceHandler(svc)
	if err != nil {
		return err
	}
	mux.Handle(path, handler)

	reflector := grpcreflect.NewStaticReflector(ClassroomServiceName)
	mux.Handle(grpcreflect.NewHandlerV1(reflector))
	mux.Handle(grpcreflect.NewHandlerV1Alpha(reflector))

	log.Info().Str("service", ClassroomServiceName).Msg("rpc routes registered")
	return nil
}
