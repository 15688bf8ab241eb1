package statefoldrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/cartesi/rollups-operator/errkind"
	"github.com/cartesi/rollups-operator/fold"
	smpb "github.com/cartesi/rollups-operator/servermanager/pb"
	"github.com/cartesi/rollups-operator/statefoldrpc/pb"
	"github.com/cartesi/rollups-operator/types"
)

// Client is a gRPC client for one statefoldrpc endpoint.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to endpoint using the JSON wire codec declared in
// servermanager/pb.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	conn, err := grpc.DialContext(ctx, endpoint,
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(smpb.Codec{}.Name())),
	)
	if err != nil {
		return nil, errkind.Transient(fmt.Errorf("statefoldrpc: dial %s: %w", endpoint, err))
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) StateAt(ctx context.Context, addr fold.Addresses, constants types.RollupsConstants, block types.Block) (*types.RollupsState, error) {
	req := &pb.StateAtRequest{Addresses: addr, Constants: constants, Block: block}
	resp := &pb.StateAtResponse{}
	if err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/StateAt", serviceName), req, resp); err != nil {
		return nil, errkind.Transient(fmt.Errorf("statefoldrpc: StateAt: %w", err))
	}
	return resp.State, nil
}

func (c *Client) InputBoxAt(ctx context.Context, addr fold.Addresses, constants types.RollupsConstants, block types.Block) (*types.DAppInputBox, error) {
	req := &pb.InputBoxAtRequest{Addresses: addr, Constants: constants, Block: block}
	resp := &pb.InputBoxAtResponse{}
	if err := c.conn.Invoke(ctx, fmt.Sprintf("/%s/InputBoxAt", serviceName), req, resp); err != nil {
		return nil, errkind.Transient(fmt.Errorf("statefoldrpc: InputBoxAt: %w", err))
	}
	return resp.InputBox, nil
}
