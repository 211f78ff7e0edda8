package wire

import (
	"github.com/chronoshard/tsdb/pkg/command"
	"github.com/chronoshard/tsdb/pkg/index"
	"github.com/chronoshard/tsdb/pkg/series"
	"github.com/chronoshard/tsdb/pkg/tsdberr"
)

// ErrorResponse carries a shard-side failure back to the coordinator when a
// request could not be fulfilled, preserving the tsdberr.Kind across the
// wire so the caller can re-wrap it correctly on the client side.
type ErrorResponse struct {
	Kind    tsdberr.Kind
	Message string
}

// NewErrorResponse builds the ErrorResponse for a shard-side error,
// preserving its Kind when it is a typed tsdberr error.
func NewErrorResponse(err error) ErrorResponse {
	if te, ok := tsdberr.As(err); ok {
		return ErrorResponse{Kind: te.Kind, Message: te.Message()}
	}
	return ErrorResponse{Kind: tsdberr.Internal, Message: err.Error()}
}

// AsError reconstructs the typed error an ErrorResponse was built from.
func (e ErrorResponse) AsError() error {
	return tsdberr.New(e.Kind, "%s", e.Message)
}

// EncodePayload serializes a pkg/command request or response (or an
// ErrorResponse) into a varint-headed, inlined-table payload. It is the
// Encode half of pkg/fanout.NetTransport's codec hook: the outer
// length+CRC32 socket framing is NetTransport's own responsibility.
func EncodePayload(payload any) ([]byte, error) {
	var e encoder
	var msgType MsgType

	switch p := payload.(type) {
	case command.CreateRequest:
		msgType = MsgCreateRequest
		e.bytesField(p.Key)
		e.stringMap(p.Labels)
		e.varint(p.Retention)
		e.varint(int64(p.ChunkSize))
	case command.CreateResponse:
		msgType = MsgCreateResponse
		e.uvarint(uint64(p.ID))
	case command.MRangeRequest:
		msgType = MsgMRangeRequest
		e.matchers(p.Matchers)
		e.timeRange(p.Range)
		e.valueFilter(p.Filter)
		e.varint(int64(len(p.Timestamps)))
		for _, ts := range p.Timestamps {
			e.varint(ts)
		}
		e.bool(p.WithLabels)
		e.strings(p.SelectedLabels)
		e.varint(int64(p.Count))
		e.aggregateOptions(p.Aggregate)
		e.groupBy(p.Group)
		e.bool(p.Reverse)
	case command.MRangeResponse:
		msgType = MsgMRangeResponse
		e.resultRows(p.Rows)
	case command.MDelRequest:
		msgType = MsgMDelRequest
		e.matchers(p.Matchers)
		e.timeRange(p.Range)
	case command.MDelResponse:
		msgType = MsgMDelResponse
		e.varint(int64(p.Deleted))
	case command.MGetRequest:
		msgType = MsgMGetRequest
		e.matchers(p.Matchers)
		e.bool(p.WithLabels)
		e.strings(p.SelectedLabels)
	case command.MGetResponse:
		msgType = MsgMGetResponse
		e.uvarint(uint64(len(p.Items)))
		for _, item := range p.Items {
			e.stringMap(item.Labels)
			e.sample(item.Sample)
			e.bool(item.Found)
		}
	case command.QueryIndexRequest:
		msgType = MsgQueryIndexRequest
		e.matchers(p.Matchers)
	case command.QueryIndexResponse:
		msgType = MsgQueryIndexResponse
		e.uvarint(uint64(len(p.Keys)))
		for _, k := range p.Keys {
			e.bytesField(k)
		}
	case command.LabelNamesRequest:
		msgType = MsgLabelNamesRequest
	case command.LabelNamesResponse:
		msgType = MsgLabelNamesResponse
		e.strings(p.Names)
	case command.LabelValuesRequest:
		msgType = MsgLabelValuesRequest
		e.string(p.Name)
		e.matchers(p.Matchers)
	case command.LabelValuesResponse:
		msgType = MsgLabelValuesResponse
		e.strings(p.Values)
	case command.CardinalityRequest:
		msgType = MsgCardinalityRequest
		e.string(p.FocusLabel)
		e.varint(int64(p.Limit))
	case command.CardinalityResponse:
		msgType = MsgCardinalityResponse
		e.uvarint(uint64(len(p.Entries)))
		for _, entry := range p.Entries {
			e.string(entry.Name)
			e.string(entry.Value)
			e.uvarint(entry.Cardinality)
		}
	case command.StatsRequest:
		msgType = MsgStatsRequest
	case command.StatsResponse:
		msgType = MsgStatsResponse
		e.uvarint(uint64(len(p.Totals)))
		for name, total := range p.Totals {
			e.string(name)
			e.uvarint(total)
		}
	case ErrorResponse:
		msgType = MsgErrorResponse
		e.byte(byte(p.Kind))
		e.string(p.Message)
	default:
		return nil, tsdberr.New(tsdberr.InternalCodecError, "wire: unsupported payload type %T", payload)
	}

	buf := AppendHeader(make([]byte, 0, 16+len(e.bytes())), Header{Type: msgType})
	return append(buf, e.bytes()...), nil
}

// DecodePayload is the Decode half of EncodePayload: it reads the leading
// Header to learn the message kind, then decodes the matching request or
// response struct.
func DecodePayload(data []byte) (any, error) {
	h, n, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	d := newDecoder(data[n:])

	switch h.Type {
	case MsgCreateRequest:
		key, err := d.bytesField()
		if err != nil {
			return nil, err
		}
		labels, err := d.stringMap()
		if err != nil {
			return nil, err
		}
		retention, err := d.varint()
		if err != nil {
			return nil, err
		}
		chunkSize, err := d.varint()
		if err != nil {
			return nil, err
		}
		return command.CreateRequest{
			Key:       series.ExternalKey(key),
			Labels:    labels,
			Retention: retention,
			ChunkSize: int(chunkSize),
		}, nil

	case MsgCreateResponse:
		id, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		return command.CreateResponse{ID: series.SeriesID(id)}, nil

	case MsgMRangeRequest:
		matchers, err := d.matchers()
		if err != nil {
			return nil, err
		}
		rng, err := d.timeRange()
		if err != nil {
			return nil, err
		}
		filter, err := d.valueFilter()
		if err != nil {
			return nil, err
		}
		nTS, err := d.varint()
		if err != nil {
			return nil, err
		}
		timestamps := make([]int64, 0, nTS)
		for i := int64(0); i < nTS; i++ {
			ts, err := d.varint()
			if err != nil {
				return nil, err
			}
			timestamps = append(timestamps, ts)
		}
		withLabels, err := d.bool()
		if err != nil {
			return nil, err
		}
		selected, err := d.strings()
		if err != nil {
			return nil, err
		}
		count, err := d.varint()
		if err != nil {
			return nil, err
		}
		agg, err := d.aggregateOptions()
		if err != nil {
			return nil, err
		}
		group, err := d.groupBy()
		if err != nil {
			return nil, err
		}
		reverse, err := d.bool()
		if err != nil {
			return nil, err
		}
		return command.MRangeRequest{
			Matchers:       matchers,
			Range:          rng,
			Filter:         filter,
			Timestamps:     timestamps,
			WithLabels:     withLabels,
			SelectedLabels: selected,
			Count:          int(count),
			Aggregate:      agg,
			Group:          group,
			Reverse:        reverse,
		}, nil

	case MsgMRangeResponse:
		rows, err := d.resultRows()
		if err != nil {
			return nil, err
		}
		return command.MRangeResponse{Rows: rows}, nil

	case MsgMDelRequest:
		matchers, err := d.matchers()
		if err != nil {
			return nil, err
		}
		rng, err := d.timeRange()
		if err != nil {
			return nil, err
		}
		return command.MDelRequest{Matchers: matchers, Range: rng}, nil

	case MsgMDelResponse:
		deleted, err := d.varint()
		if err != nil {
			return nil, err
		}
		return command.MDelResponse{Deleted: int(deleted)}, nil

	case MsgMGetRequest:
		matchers, err := d.matchers()
		if err != nil {
			return nil, err
		}
		withLabels, err := d.bool()
		if err != nil {
			return nil, err
		}
		selected, err := d.strings()
		if err != nil {
			return nil, err
		}
		return command.MGetRequest{Matchers: matchers, WithLabels: withLabels, SelectedLabels: selected}, nil

	case MsgMGetResponse:
		n, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		items := make([]command.MGetItem, 0, n)
		for i := uint64(0); i < n; i++ {
			labels, err := d.stringMap()
			if err != nil {
				return nil, err
			}
			sample, err := d.sample()
			if err != nil {
				return nil, err
			}
			found, err := d.bool()
			if err != nil {
				return nil, err
			}
			items = append(items, command.MGetItem{Labels: labels, Sample: sample, Found: found})
		}
		return command.MGetResponse{Items: items}, nil

	case MsgQueryIndexRequest:
		matchers, err := d.matchers()
		if err != nil {
			return nil, err
		}
		return command.QueryIndexRequest{Matchers: matchers}, nil

	case MsgQueryIndexResponse:
		n, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		keys := make([]series.ExternalKey, 0, n)
		for i := uint64(0); i < n; i++ {
			k, err := d.bytesField()
			if err != nil {
				return nil, err
			}
			keys = append(keys, series.ExternalKey(k))
		}
		return command.QueryIndexResponse{Keys: keys}, nil

	case MsgLabelNamesRequest:
		return command.LabelNamesRequest{}, nil

	case MsgLabelNamesResponse:
		names, err := d.strings()
		if err != nil {
			return nil, err
		}
		return command.LabelNamesResponse{Names: names}, nil

	case MsgLabelValuesRequest:
		name, err := d.string()
		if err != nil {
			return nil, err
		}
		matchers, err := d.matchers()
		if err != nil {
			return nil, err
		}
		return command.LabelValuesRequest{Name: name, Matchers: matchers}, nil

	case MsgLabelValuesResponse:
		values, err := d.strings()
		if err != nil {
			return nil, err
		}
		return command.LabelValuesResponse{Values: values}, nil

	case MsgCardinalityRequest:
		focus, err := d.string()
		if err != nil {
			return nil, err
		}
		limit, err := d.varint()
		if err != nil {
			return nil, err
		}
		return command.CardinalityRequest{FocusLabel: focus, Limit: int(limit)}, nil

	case MsgCardinalityResponse:
		n, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		entries := make([]index.LabelValueCardinality, 0, n)
		for i := uint64(0); i < n; i++ {
			name, err := d.string()
			if err != nil {
				return nil, err
			}
			value, err := d.string()
			if err != nil {
				return nil, err
			}
			card, err := d.uvarint()
			if err != nil {
				return nil, err
			}
			entries = append(entries, index.LabelValueCardinality{Name: name, Value: value, Cardinality: card})
		}
		return command.CardinalityResponse{Entries: entries}, nil

	case MsgStatsRequest:
		return command.StatsRequest{}, nil

	case MsgStatsResponse:
		n, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		totals := make(map[string]uint64, n)
		for i := uint64(0); i < n; i++ {
			name, err := d.string()
			if err != nil {
				return nil, err
			}
			total, err := d.uvarint()
			if err != nil {
				return nil, err
			}
			totals[name] = total
		}
		return command.StatsResponse{Totals: totals}, nil

	case MsgErrorResponse:
		kind, err := d.byte()
		if err != nil {
			return nil, err
		}
		msg, err := d.string()
		if err != nil {
			return nil, err
		}
		return ErrorResponse{Kind: tsdberr.Kind(kind), Message: msg}, nil

	default:
		return nil, tsdberr.New(tsdberr.InternalCodecError, "wire: unknown message type %d", h.Type)
	}
}
