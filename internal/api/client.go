package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"pagescope/internal/domain"
)

// Client talks to a RangeService over gRPC.
type Client struct {
	addr string
	conn *grpc.ClientConn
	log  *slog.Logger
}

// NewClient creates a client targeting the given gRPC address. The
// connection is established lazily on the first call.
func NewClient(addr string, log *slog.Logger) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{addr: addr, conn: conn, log: log}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetRange returns the server's current range.
func (c *Client) GetRange(ctx context.Context) (domain.DateRange, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetRange, &emptypb.Empty{}, out); err != nil {
		return domain.DateRange{}, fmt.Errorf("GetRange: %w", err)
	}
	u, err := decodeUpdate(out)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("GetRange: %w", err)
	}
	return u.Range, nil
}

// SetRange submits an explicit selection. The zero range resets to all time.
func (c *Client) SetRange(ctx context.Context, r domain.DateRange) (domain.DateRange, error) {
	in, err := encodeUpdate(Update{Range: r})
	if err != nil {
		return domain.DateRange{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodSetRange, in, out); err != nil {
		return domain.DateRange{}, fmt.Errorf("SetRange: %w", err)
	}
	u, err := decodeUpdate(out)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("SetRange: %w", err)
	}
	return u.Range, nil
}

// Watch streams committed ranges into fn, starting with a snapshot. It
// blocks until ctx is cancelled or the stream ends.
func (c *Client) Watch(ctx context.Context, fn func(Update)) error {
	stream, err := c.conn.NewStream(ctx, &RangeServiceDesc.Streams[0], methodWatchRange)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}

	c.log.Info("connected to range stream", "addr", c.addr)

	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving range: %w", err)
		}
		u, err := decodeUpdate(msg)
		if err != nil {
			c.log.Warn("skipping malformed range", "error", err)
			continue
		}
		fn(u)
	}
}
