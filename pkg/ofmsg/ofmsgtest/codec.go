// Package ofmsgtest is a minimal, self-contained ofmsg.HandshakeCodec
// implementation used by ofcore's own tests and as a worked example of
// what a real codec needs to provide. It is not a wire-compatible
// implementation of any existing control protocol; message bodies use a
// small fixed-field encoding chosen for clarity, not interoperability.
package ofmsgtest

import (
	"encoding/binary"
	"fmt"

	"github.com/ofnet/ofcore/pkg/ofmsg"
)

// Message type bytes of this demo codec. ofcore recognizes messages by
// capability interface, not by these values; FlowMod stands in for an
// application-defined message.
const (
	TypeHello           uint8 = 0
	TypeError           uint8 = 1
	TypeEchoRequest     uint8 = 2
	TypeEchoReply       uint8 = 3
	TypeFeaturesRequest uint8 = 5
	TypeFeaturesReply   uint8 = 6
	TypeGetConfigReq    uint8 = 7
	TypeGetConfigReply  uint8 = 8
	TypeTableStatsReq   uint8 = 18
	TypeTableStatsReply uint8 = 19
	TypeRoleRequest     uint8 = 24
	TypeRoleReply       uint8 = 25
	TypeFlowMod         uint8 = 14
)

// Hello carries an advertised VersionBitmap, matching ofmsg.Hello.
type Hello struct {
	Versions_ []int
	HasBitmap bool
}

func (Hello) Type() uint8                        { return TypeHello }
func (h Hello) Versions() (versions []int, ok bool) { return h.Versions_, h.HasBitmap }

// Error carries a wire ERROR message, matching ofmsg.ErrorMessage.
type Error struct {
	Kind_ uint16
	Code_ uint16
	Body_ []byte
}

func (Error) Type() uint8      { return TypeError }
func (e Error) Kind() uint16   { return e.Kind_ }
func (e Error) Code() uint16   { return e.Code_ }
func (e Error) Body() []byte   { return e.Body_ }

// EchoRequest/EchoReply carry opaque liveness-probe payloads.
type EchoRequest struct{ Data_ []byte }

func (EchoRequest) Type() uint8     { return TypeEchoRequest }
func (e EchoRequest) Data() []byte  { return e.Data_ }

type EchoReply struct{ Data_ []byte }

func (EchoReply) Type() uint8    { return TypeEchoReply }
func (e EchoReply) Data() []byte { return e.Data_ }

// FeaturesRequest/FeaturesReply drive the §10.7 bring-up sequence.
type FeaturesRequest struct{}

func (FeaturesRequest) Type() uint8 { return TypeFeaturesRequest }

type FeaturesReply struct {
	DatapathID_  uint64
	NumPorts     uint16
	AuxiliaryID_ uint8
}

func (FeaturesReply) Type() uint8           { return TypeFeaturesReply }
func (f FeaturesReply) DatapathID() uint64  { return f.DatapathID_ }
func (f FeaturesReply) AuxiliaryID() uint8  { return f.AuxiliaryID_ }

// GetConfigRequest/GetConfigReply are the bring-up sequence's second
// stage; this demo codec carries no fields beyond the type byte.
type GetConfigRequest struct{}

func (GetConfigRequest) Type() uint8 { return TypeGetConfigReq }

type GetConfigReply struct{}

func (GetConfigReply) Type() uint8 { return TypeGetConfigReply }

// TableStatsRequest/TableStatsReply are the bring-up sequence's third
// stage.
type TableStatsRequest struct{}

func (TableStatsRequest) Type() uint8 { return TypeTableStatsReq }

type TableStatsReply struct{ NumTables uint8 }

func (TableStatsReply) Type() uint8 { return TypeTableStatsReply }

// RoleRequest/RoleReply drive §4.5 role arbitration.
type RoleRequest struct {
	Role_         int8
	GenerationID_ uint64
}

func (RoleRequest) Type() uint8            { return TypeRoleRequest }
func (r RoleRequest) RequestedRole() int8  { return r.Role_ }
func (r RoleRequest) GenerationID() uint64 { return r.GenerationID_ }

type RoleReply struct {
	Role_         int8
	GenerationID_ uint64
}

func (RoleReply) Type() uint8 { return TypeRoleReply }

// FlowMod is a stand-in modifying request, used by tests to exercise
// the slave-role rejection path (§4.5/§6.4).
type FlowMod struct {
	Cookie uint64
}

func (FlowMod) Type() uint8 {
	return TypeFlowMod
}

// Modifying makes FlowMod satisfy ofmsg.ModifyingRequest: it mutates
// forwarding state, so a SLAVE-role controller sending one is rejected.
func (FlowMod) Modifying() bool { return true }

// Codec implements ofmsg.HandshakeCodec, ofmsg.ErrorFactory,
// ofmsg.FeaturesRequestFactory, ofmsg.GetConfigRequestFactory,
// ofmsg.TableStatsRequestFactory and ofmsg.RoleReplyFactory, so it
// exercises every optional capability ofcore looks for.
type Codec struct{}

var (
	_ ofmsg.HandshakeCodec           = Codec{}
	_ ofmsg.FeaturesRequestFactory   = Codec{}
	_ ofmsg.GetConfigRequestFactory  = Codec{}
	_ ofmsg.TableStatsRequestFactory = Codec{}
	_ ofmsg.RoleReplyFactory         = Codec{}
)

func (Codec) NewHello(versions []int, _ uint8) ofmsg.Message {
	return Hello{Versions_: versions, HasBitmap: true}
}

func (Codec) NewEchoRequest(data []byte) ofmsg.Message { return EchoRequest{Data_: data} }
func (Codec) NewEchoReply(data []byte) ofmsg.Message   { return EchoReply{Data_: data} }

func (Codec) NewError(kind, code uint16, body []byte) ofmsg.Message {
	return Error{Kind_: kind, Code_: code, Body_: body}
}

func (Codec) NewFeaturesRequest() ofmsg.Message   { return FeaturesRequest{} }
func (Codec) NewGetConfigRequest() ofmsg.Message  { return GetConfigRequest{} }
func (Codec) NewTableStatsRequest() ofmsg.Message { return TableStatsRequest{} }

func (Codec) NewRoleReply(role int8, generationID uint64) ofmsg.Message {
	return RoleReply{Role_: role, GenerationID_: generationID}
}

// Encode serializes msg into a small fixed-field body. version is
// unused: this demo codec never changed its wire layout across
// versions.
func (Codec) Encode(_ uint8, msg ofmsg.Message) ([]byte, error) {
	switch m := msg.(type) {
	case Hello:
		buf := make([]byte, 2+4*len(m.Versions_))
		binary.BigEndian.PutUint16(buf[0:2], uint16(len(m.Versions_)))
		for i, v := range m.Versions_ {
			binary.BigEndian.PutUint32(buf[2+4*i:6+4*i], uint32(v))
		}
		return buf, nil
	case Error:
		buf := make([]byte, 4+len(m.Body_))
		binary.BigEndian.PutUint16(buf[0:2], m.Kind_)
		binary.BigEndian.PutUint16(buf[2:4], m.Code_)
		copy(buf[4:], m.Body_)
		return buf, nil
	case EchoRequest:
		return append([]byte(nil), m.Data_...), nil
	case EchoReply:
		return append([]byte(nil), m.Data_...), nil
	case FeaturesRequest:
		return nil, nil
	case FeaturesReply:
		buf := make([]byte, 11)
		binary.BigEndian.PutUint64(buf[0:8], m.DatapathID_)
		binary.BigEndian.PutUint16(buf[8:10], m.NumPorts)
		buf[10] = m.AuxiliaryID_
		return buf, nil
	case GetConfigRequest:
		return nil, nil
	case GetConfigReply:
		return nil, nil
	case TableStatsRequest:
		return nil, nil
	case TableStatsReply:
		return []byte{m.NumTables}, nil
	case RoleRequest:
		buf := make([]byte, 9)
		buf[0] = byte(m.Role_)
		binary.BigEndian.PutUint64(buf[1:9], m.GenerationID_)
		return buf, nil
	case RoleReply:
		buf := make([]byte, 9)
		buf[0] = byte(m.Role_)
		binary.BigEndian.PutUint64(buf[1:9], m.GenerationID_)
		return buf, nil
	case FlowMod:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, m.Cookie)
		return buf, nil
	default:
		return nil, fmt.Errorf("ofmsgtest: unknown message type %T", msg)
	}
}

// Decode parses body according to typ, independent of version (this
// demo codec never revised its wire layout).
func (Codec) Decode(_ uint8, typ uint8, body []byte) (ofmsg.Message, error) {
	switch typ {
	case TypeHello:
		if len(body) == 0 {
			return Hello{HasBitmap: false}, nil
		}
		if len(body) < 2 {
			return nil, fmt.Errorf("%w: hello body too short", ofmsg.ErrParse)
		}
		n := int(binary.BigEndian.Uint16(body[0:2]))
		if len(body) < 2+4*n {
			return nil, fmt.Errorf("%w: hello body truncated", ofmsg.ErrParse)
		}
		versions := make([]int, n)
		for i := 0; i < n; i++ {
			versions[i] = int(binary.BigEndian.Uint32(body[2+4*i : 6+4*i]))
		}
		return Hello{Versions_: versions, HasBitmap: true}, nil
	case TypeError:
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: error body too short", ofmsg.ErrParse)
		}
		return Error{
			Kind_: binary.BigEndian.Uint16(body[0:2]),
			Code_: binary.BigEndian.Uint16(body[2:4]),
			Body_: append([]byte(nil), body[4:]...),
		}, nil
	case TypeEchoRequest:
		return EchoRequest{Data_: append([]byte(nil), body...)}, nil
	case TypeEchoReply:
		return EchoReply{Data_: append([]byte(nil), body...)}, nil
	case TypeFeaturesRequest:
		return FeaturesRequest{}, nil
	case TypeFeaturesReply:
		if len(body) < 11 {
			return nil, fmt.Errorf("%w: features reply body too short", ofmsg.ErrParse)
		}
		return FeaturesReply{
			DatapathID_:  binary.BigEndian.Uint64(body[0:8]),
			NumPorts:     binary.BigEndian.Uint16(body[8:10]),
			AuxiliaryID_: body[10],
		}, nil
	case TypeGetConfigReq:
		return GetConfigRequest{}, nil
	case TypeGetConfigReply:
		return GetConfigReply{}, nil
	case TypeTableStatsReq:
		return TableStatsRequest{}, nil
	case TypeTableStatsReply:
		if len(body) < 1 {
			return nil, fmt.Errorf("%w: table stats reply body too short", ofmsg.ErrParse)
		}
		return TableStatsReply{NumTables: body[0]}, nil
	case TypeRoleRequest:
		if len(body) < 9 {
			return nil, fmt.Errorf("%w: role request body too short", ofmsg.ErrParse)
		}
		return RoleRequest{Role_: int8(body[0]), GenerationID_: binary.BigEndian.Uint64(body[1:9])}, nil
	case TypeRoleReply:
		if len(body) < 9 {
			return nil, fmt.Errorf("%w: role reply body too short", ofmsg.ErrParse)
		}
		return RoleReply{Role_: int8(body[0]), GenerationID_: binary.BigEndian.Uint64(body[1:9])}, nil
	case TypeFlowMod:
		if len(body) < 8 {
			return nil, fmt.Errorf("%w: flow mod body too short", ofmsg.ErrParse)
		}
		return FlowMod{Cookie: binary.BigEndian.Uint64(body[0:8])}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %d", ofmsg.ErrParse, typ)
	}
}
