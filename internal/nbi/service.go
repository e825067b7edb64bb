package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// MountServiceName is the fully qualified gRPC service name.
const MountServiceName = "mounts.v1.MountService"

// MountServiceServer is the server API of the mount service. Requests and
// responses are google.protobuf.Struct documents; the field names are
// documented on MountService.
type MountServiceServer interface {
	GetTree(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateMount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Mount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateUnmount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unmount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTimepoints(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(MountServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unaryHandler(method string, call unaryMethod) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MountServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + MountServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MountServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// MountServiceDesc describes the mount service for grpc.Server.
var MountServiceDesc = grpc.ServiceDesc{
	ServiceName: MountServiceName,
	HandlerType: (*MountServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTree", Handler: unaryHandler("GetTree", MountServiceServer.GetTree)},
		{MethodName: "ValidateMount", Handler: unaryHandler("ValidateMount", MountServiceServer.ValidateMount)},
		{MethodName: "Mount", Handler: unaryHandler("Mount", MountServiceServer.Mount)},
		{MethodName: "ValidateUnmount", Handler: unaryHandler("ValidateUnmount", MountServiceServer.ValidateUnmount)},
		{MethodName: "Unmount", Handler: unaryHandler("Unmount", MountServiceServer.Unmount)},
		{MethodName: "ListTimepoints", Handler: unaryHandler("ListTimepoints", MountServiceServer.ListTimepoints)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mounts/v1/mount_service.proto",
}

// RegisterMountServiceServer registers srv on s.
func RegisterMountServiceServer(s grpc.ServiceRegistrar, srv MountServiceServer) {
	s.RegisterService(&MountServiceDesc, srv)
}

// MountServiceClient calls a remote mount service.
type MountServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMountServiceClient returns a client using cc.
func NewMountServiceClient(cc grpc.ClientConnInterface) *MountServiceClient {
	return &MountServiceClient{cc: cc}
}

func (c *MountServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+MountServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MountServiceClient) GetTree(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetTree", in, opts...)
}

func (c *MountServiceClient) ValidateMount(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ValidateMount", in, opts...)
}

func (c *MountServiceClient) Mount(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Mount", in, opts...)
}

func (c *MountServiceClient) ValidateUnmount(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ValidateUnmount", in, opts...)
}

func (c *MountServiceClient) Unmount(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Unmount", in, opts...)
}

func (c *MountServiceClient) ListTimepoints(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListTimepoints", in, opts...)
}
