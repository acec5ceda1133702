// Package control implements the admin socket of a running wlrt server.
//
// Messages are google.protobuf.Struct values framed with a 4-byte
// big-endian length. Every request carries a "type" field; the server
// answers each request with exactly one response.
package control

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const maxFrameSize = 1 << 20

const (
	TypeStatus     = "status"
	TypeDisconnect = "disconnect"

	TypeStatusResponse = "status_response"
	TypeOK             = "ok"
	TypeError          = "error"
)

var (
	ErrFrameTooLarge = errors.New("control frame too large")
	ErrNoSuchClient  = errors.New("no such client")
	ErrUnknownType   = errors.New("unknown message type")
)

// ClientInfo describes one connected Wayland client.
type ClientInfo struct {
	ID      uint32
	PID     int32
	UID     uint32
	Objects int
}

// GlobalInfo describes one advertised global.
type GlobalInfo struct {
	Name      uint32
	Interface string
	Version   uint32
	Binds     int
}

// ToplevelInfo describes one shell toplevel.
type ToplevelInfo struct {
	Client   uint32
	Protocol string
	Title    string
	AppID    string
	Mapped   bool
}

type Status struct {
	Socket    string
	Serial    uint32
	Clients   []ClientInfo
	Globals   []GlobalInfo
	Toplevels []ToplevelInfo
	Exports   int
	Relations int
}

func writeFrame(w io.Writer, msg *structpb.Struct) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (*structpb.Struct, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read message data: %w", err)
	}

	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

func messageType(msg *structpb.Struct) string {
	return msg.GetFields()["type"].GetStringValue()
}

func newMessage(typ string, fields map[string]any) (*structpb.Struct, error) {
	m := map[string]any{"type": typ}
	for k, v := range fields {
		m[k] = v
	}
	return structpb.NewStruct(m)
}

func newErrorMessage(err error) *structpb.Struct {
	msg, _ := newMessage(TypeError, map[string]any{"error": err.Error()})
	return msg
}

func encodeStatus(st *Status) (*structpb.Struct, error) {
	clients := make([]any, 0, len(st.Clients))
	for _, c := range st.Clients {
		clients = append(clients, map[string]any{
			"id":      c.ID,
			"pid":     c.PID,
			"uid":     c.UID,
			"objects": c.Objects,
		})
	}
	globals := make([]any, 0, len(st.Globals))
	for _, g := range st.Globals {
		globals = append(globals, map[string]any{
			"name":      g.Name,
			"interface": g.Interface,
			"version":   g.Version,
			"binds":     g.Binds,
		})
	}
	toplevels := make([]any, 0, len(st.Toplevels))
	for _, t := range st.Toplevels {
		toplevels = append(toplevels, map[string]any{
			"client":   t.Client,
			"protocol": t.Protocol,
			"title":    t.Title,
			"app_id":   t.AppID,
			"mapped":   t.Mapped,
		})
	}

	return newMessage(TypeStatusResponse, map[string]any{
		"socket":    st.Socket,
		"serial":    st.Serial,
		"clients":   clients,
		"globals":   globals,
		"toplevels": toplevels,
		"exports":   st.Exports,
		"relations": st.Relations,
	})
}

func decodeStatus(msg *structpb.Struct) *Status {
	m := msg.AsMap()
	st := &Status{
		Socket:    str(m["socket"]),
		Serial:    uint32(num(m["serial"])),
		Exports:   int(num(m["exports"])),
		Relations: int(num(m["relations"])),
	}
	for _, v := range list(m["clients"]) {
		c := obj(v)
		st.Clients = append(st.Clients, ClientInfo{
			ID:      uint32(num(c["id"])),
			PID:     int32(num(c["pid"])),
			UID:     uint32(num(c["uid"])),
			Objects: int(num(c["objects"])),
		})
	}
	for _, v := range list(m["globals"]) {
		g := obj(v)
		st.Globals = append(st.Globals, GlobalInfo{
			Name:      uint32(num(g["name"])),
			Interface: str(g["interface"]),
			Version:   uint32(num(g["version"])),
			Binds:     int(num(g["binds"])),
		})
	}
	for _, v := range list(m["toplevels"]) {
		t := obj(v)
		mapped, _ := t["mapped"].(bool)
		st.Toplevels = append(st.Toplevels, ToplevelInfo{
			Client:   uint32(num(t["client"])),
			Protocol: str(t["protocol"]),
			Title:    str(t["title"]),
			AppID:    str(t["app_id"]),
			Mapped:   mapped,
		})
	}
	return st
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// num reads a JSON-style number; structpb keeps every number as float64.
func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func obj(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
