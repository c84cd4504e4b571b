package server

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// queryProtoPath names the descriptor registered for QueryService. It is
// what grpcurl and other reflection clients resolve the service to.
const queryProtoPath = "querygate/v1/query.proto"

func init() {
	if err := registerQueryProto(protoregistry.GlobalFiles); err != nil {
		panic(err)
	}
}

// queryFileDescriptor describes QueryService the way protoc would for
//
//	syntax = "proto3";
//	package querygate.v1;
//	import "google/protobuf/struct.proto";
//	service QueryService {
//	  rpc Query(google.protobuf.Struct) returns (google.protobuf.Struct);
//	}
func queryFileDescriptor() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(queryProtoPath),
		Package:    proto.String("querygate.v1"),
		Dependency: []string{"google/protobuf/struct.proto"},
		Syntax:     proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/triage-ai/querygate/internal/server"),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("QueryService"),
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("Query"),
				InputType:  proto.String(".google.protobuf.Struct"),
				OutputType: proto.String(".google.protobuf.Struct"),
			}},
		}},
	}
}

// registerQueryProto adds the QueryService descriptor to files unless a file
// with the same path is already there.
func registerQueryProto(files *protoregistry.Files) error {
	if _, err := files.FindFileByPath(queryProtoPath); err == nil {
		return nil
	}
	fd, err := protodesc.NewFile(queryFileDescriptor(), files)
	if err != nil {
		return fmt.Errorf("build %s: %w", queryProtoPath, err)
	}
	if err := files.RegisterFile(fd); err != nil {
		return fmt.Errorf("register %s: %w", queryProtoPath, err)
	}
	return nil
}
