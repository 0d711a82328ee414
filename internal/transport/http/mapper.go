package http

import (
	"encoding/json"

	"github.com/vovakirdan/trekchat/internal/core"
	"github.com/vovakirdan/trekchat/internal/proto"
	"github.com/vovakirdan/trekchat/internal/service/messages"
	"github.com/vovakirdan/trekchat/internal/store"
)

// inboundToAppend maps a stream frame to an append request. A protocol error
// is returned for frames the client can fix; err is returned for frames that
// cannot be decoded at all.
func inboundToAppend(ident Identity, roomID string, inbound proto.Inbound) (*messages.AppendRequest, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, nil, err
		}
		return &messages.AppendRequest{
			RoomID:      roomID,
			AuthorID:    ident.UserID,
			AuthorName:  ident.Name,
			AuthorPhoto: ident.Photo,
			Text:        msg.Text,
			ClientID:    msg.ClientID,
		}, nil, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown message type"}, nil
	}
}

func outboundFromSnapshot(snap core.Snapshot) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventSnapshot,
		Data:  proto.FromSnapshot(snap),
	}
}

func outboundAck(msg *store.Message) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventAck,
		Data:  proto.Ack{ClientID: msg.ClientID, Message: proto.FromMessage(msg)},
	}
}

func outboundError(protoErr *proto.Error) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr}
}
