package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jmerrifield20/civicstreak/internal/identity"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// Client calls ServiceName over a client connection. Errors are mapped with
// ErrorFromStatus.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
	owner string
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// WithToken returns a copy of c that sends a bearer token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// AsDevOwner returns a copy of c that names owner in the development header.
func (c *Client) AsDevOwner(owner streak.Identity) *Client {
	cp := *c
	cp.owner = owner.String()
	return &cp
}

// Initialize creates the caller's record.
func (c *Client) Initialize(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodInitialize, &structpb.Struct{})
}

// RecordEngagement records an engagement by the caller.
func (c *Client) RecordEngagement(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRecordEngagement, &structpb.Struct{})
}

// GetRecord fetches the record of owner.
func (c *Client) GetRecord(ctx context.Context, owner streak.Identity) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"owner": owner.String()})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, MethodGetRecord, req)
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	if c.owner != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, identity.HeaderDevOwner, c.owner)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out); err != nil {
		return nil, ErrorFromStatus(err)
	}
	return out, nil
}
