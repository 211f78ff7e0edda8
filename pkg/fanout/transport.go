package fanout

import (
	"bufio"
	"context"
	"fmt"
	"net"

	"github.com/chronoshard/tsdb/pkg/wire"
)

// InProcessTransport calls a handler function directly, used by tests and
// single-node embedding where "shards" live in the same process.
type InProcessTransport struct {
	Handlers map[int]func(ctx context.Context, payload any) (any, error)
}

func (t *InProcessTransport) Send(ctx context.Context, req ShardRequest) (ShardResponse, error) {
	h, ok := t.Handlers[req.ShardID]
	if !ok {
		return ShardResponse{}, fmt.Errorf("fanout: no handler registered for shard %d", req.ShardID)
	}
	payload, err := h(ctx, req.Payload)
	if err != nil {
		return ShardResponse{ShardID: req.ShardID, Err: err}, nil
	}
	return ShardResponse{ShardID: req.ShardID, Payload: payload}, nil
}

// NetTransport sends requests over a TCP connection per shard, framing each
// message with wire.WriteFrame/ReadFrame — the same length-prefixed,
// CRC32-footed layout wire.Server reads on the shard side.
type NetTransport struct {
	Dial func(ctx context.Context, shardID int) (net.Conn, error)

	// Encode/Decode convert between the fan-out payload type and wire
	// bytes. NewNetTransport binds these to pkg/wire's request/response
	// codecs; set directly for a custom codec.
	Encode func(payload any) ([]byte, error)
	Decode func(data []byte) (any, error)
}

// NewNetTransport returns a NetTransport bound to pkg/wire's payload codec,
// dialing shards with dial. A decoded wire.ErrorResponse is surfaced as the
// shard's error, so command failures on a shard come back typed instead of
// as an opaque payload.
func NewNetTransport(dial func(ctx context.Context, shardID int) (net.Conn, error)) *NetTransport {
	return &NetTransport{
		Dial:   dial,
		Encode: wire.EncodePayload,
		Decode: func(data []byte) (any, error) {
			payload, err := wire.DecodePayload(data)
			if err != nil {
				return nil, err
			}
			if er, ok := payload.(wire.ErrorResponse); ok {
				return nil, er.AsError()
			}
			return payload, nil
		},
	}
}

func (t *NetTransport) Send(ctx context.Context, req ShardRequest) (ShardResponse, error) {
	conn, err := t.Dial(ctx, req.ShardID)
	if err != nil {
		return ShardResponse{}, fmt.Errorf("fanout: dial shard %d: %w", req.ShardID, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	payloadBytes, err := t.Encode(req.Payload)
	if err != nil {
		return ShardResponse{}, fmt.Errorf("fanout: encode request: %w", err)
	}
	if err := wire.WriteFrame(conn, payloadBytes); err != nil {
		return ShardResponse{}, fmt.Errorf("fanout: write request: %w", err)
	}

	respBytes, err := wire.ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return ShardResponse{}, fmt.Errorf("fanout: read response: %w", err)
	}

	payload, err := t.Decode(respBytes)
	if err != nil {
		return ShardResponse{ShardID: req.ShardID, Err: err}, nil
	}

	return ShardResponse{ShardID: req.ShardID, Payload: payload}, nil
}
