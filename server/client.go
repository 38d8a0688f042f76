package server

import (
	"context"

	"connectrpc.com/connect"
)

// Client calls a remote memory service.
type Client struct {
	allocate        *connect.Client[AllocateRequest, AllocateResponse]
	deallocate      *connect.Client[DeallocateRequest, Empty]
	read            *connect.Client[ReadRequest, ReadResponse]
	fill            *connect.Client[FillRequest, Empty]
	copy            *connect.Client[CopyRequest, Empty]
	addRef          *connect.Client[AddRefRequest, Empty]
	copyRef         *connect.Client[CopyRefRequest, Empty]
	removeRef       *connect.Client[RemoveRefRequest, Empty]
	removeRefBelow  *connect.Client[RemoveRefBelowRequest, RemoveRefBelowResponse]
	removeRefRunPtr *connect.Client[RemoveRefRunPtrRequest, RemoveRefRunPtrResponse]
	check           *connect.Client[CheckRequest, CheckResponse]
	snapshot        *connect.Client[SnapshotRequest, SnapshotResponse]
	replay          *connect.Client[ReplayRequest, ReplayResponse]
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:4570".
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	codec := connect.WithCodec(newCBORCodec())
	return &Client{
		allocate:        connect.NewClient[AllocateRequest, AllocateResponse](httpClient, baseURL+AllocateProcedure, codec),
		deallocate:      connect.NewClient[DeallocateRequest, Empty](httpClient, baseURL+DeallocateProcedure, codec),
		read:            connect.NewClient[ReadRequest, ReadResponse](httpClient, baseURL+ReadProcedure, codec),
		fill:            connect.NewClient[FillRequest, Empty](httpClient, baseURL+FillProcedure, codec),
		copy:            connect.NewClient[CopyRequest, Empty](httpClient, baseURL+CopyProcedure, codec),
		addRef:          connect.NewClient[AddRefRequest, Empty](httpClient, baseURL+AddRefProcedure, codec),
		copyRef:         connect.NewClient[CopyRefRequest, Empty](httpClient, baseURL+CopyRefProcedure, codec),
		removeRef:       connect.NewClient[RemoveRefRequest, Empty](httpClient, baseURL+RemoveRefProcedure, codec),
		removeRefBelow:  connect.NewClient[RemoveRefBelowRequest, RemoveRefBelowResponse](httpClient, baseURL+RemoveRefBelowProcedure, codec),
		removeRefRunPtr: connect.NewClient[RemoveRefRunPtrRequest, RemoveRefRunPtrResponse](httpClient, baseURL+RemoveRefRunPtrProcedure, codec),
		check:           connect.NewClient[CheckRequest, CheckResponse](httpClient, baseURL+CheckProcedure, codec),
		snapshot:        connect.NewClient[SnapshotRequest, SnapshotResponse](httpClient, baseURL+SnapshotProcedure, codec),
		replay:          connect.NewClient[ReplayRequest, ReplayResponse](httpClient, baseURL+ReplayProcedure, codec),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], msg *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Allocate(ctx context.Context, req *AllocateRequest) (*AllocateResponse, error) {
	return call(ctx, c.allocate, req)
}

func (c *Client) Deallocate(ctx context.Context, req *DeallocateRequest) error {
	_, err := call(ctx, c.deallocate, req)
	return err
}

func (c *Client) Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error) {
	return call(ctx, c.read, req)
}

func (c *Client) Fill(ctx context.Context, req *FillRequest) error {
	_, err := call(ctx, c.fill, req)
	return err
}

func (c *Client) Copy(ctx context.Context, req *CopyRequest) error {
	_, err := call(ctx, c.copy, req)
	return err
}

func (c *Client) AddRef(ctx context.Context, req *AddRefRequest) error {
	_, err := call(ctx, c.addRef, req)
	return err
}

func (c *Client) CopyRef(ctx context.Context, req *CopyRefRequest) error {
	_, err := call(ctx, c.copyRef, req)
	return err
}

func (c *Client) RemoveRef(ctx context.Context, req *RemoveRefRequest) error {
	_, err := call(ctx, c.removeRef, req)
	return err
}

func (c *Client) RemoveRefBelow(ctx context.Context, req *RemoveRefBelowRequest) (*RemoveRefBelowResponse, error) {
	return call(ctx, c.removeRefBelow, req)
}

func (c *Client) RemoveRefRunPtr(ctx context.Context, req *RemoveRefRunPtrRequest) (*RemoveRefRunPtrResponse, error) {
	return call(ctx, c.removeRefRunPtr, req)
}

func (c *Client) Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	return call(ctx, c.check, req)
}

func (c *Client) Snapshot(ctx context.Context) (*SnapshotResponse, error) {
	return call(ctx, c.snapshot, &SnapshotRequest{})
}

func (c *Client) Replay(ctx context.Context, req *ReplayRequest) (*ReplayResponse, error) {
	return call(ctx, c.replay, req)
}
