// Package socketio implements the engine.io/socket.io framing shared by the
// client channel and the stub server's push endpoint. Each websocket text
// frame is an engine packet; engine message packets carry a socket packet
// whose own first byte is the socket type.
package socketio

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

type EnginePacketType byte

const (
	EngineOpen    EnginePacketType = '0'
	EngineClose   EnginePacketType = '1'
	EnginePing    EnginePacketType = '2'
	EnginePong    EnginePacketType = '3'
	EngineMessage EnginePacketType = '4'
)

type SocketPacketType byte

const (
	SocketConnect      SocketPacketType = '0'
	SocketEvent        SocketPacketType = '2'
	SocketAck          SocketPacketType = '3'
	SocketConnectError SocketPacketType = '4'
)

type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

func BuildOpenFrame(open OpenPayload) (string, error) {
	data, err := json.Marshal(open)
	if err != nil {
		return "", err
	}
	return string(EngineOpen) + string(data), nil
}

func ParseOpenFrame(frame string) (OpenPayload, error) {
	if frame == "" || EnginePacketType(frame[0]) != EngineOpen {
		return OpenPayload{}, errors.New("not an open packet")
	}
	var open OpenPayload
	if err := json.Unmarshal([]byte(frame[1:]), &open); err != nil {
		return OpenPayload{}, err
	}
	return open, nil
}

func parseOptionalNamespace(s string) (namespace string, rest string) {
	if !strings.HasPrefix(s, "/") {
		return "/", s
	}
	comma := strings.IndexByte(s, ',')
	if comma == -1 {
		return "/", s
	}
	return s[:comma], s[comma+1:]
}

func parseOptionalIDPrefix(s string) (id *int, rest string) {
	i := 0
	for i < len(s) {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		i++
	}
	if i == 0 {
		return nil, s
	}
	v, err := strconv.Atoi(s[:i])
	if err != nil {
		return nil, s
	}
	return &v, s[i:]
}

type EventPacket struct {
	Namespace string
	ID        *int
	Event     string
	Args      []json.RawMessage
}

// ParseEventPacket decodes a socket event payload, e.g.
// 2["new_message",{...}].
func ParseEventPacket(payload string) (EventPacket, error) {
	if payload == "" {
		return EventPacket{}, errors.New("empty payload")
	}
	if payload[0] != byte(SocketEvent) {
		return EventPacket{}, errors.New("not an event packet")
	}

	ns, rest := parseOptionalNamespace(payload[1:])
	id, rest := parseOptionalIDPrefix(rest)
	if !strings.HasPrefix(rest, "[") {
		return EventPacket{}, errors.New("invalid event payload")
	}

	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(rest), &arr); err != nil {
		return EventPacket{}, err
	}
	if len(arr) == 0 {
		return EventPacket{}, errors.New("missing event name")
	}
	var eventName string
	if err := json.Unmarshal(arr[0], &eventName); err != nil {
		return EventPacket{}, errors.New("invalid event name")
	}

	return EventPacket{Namespace: ns, ID: id, Event: eventName, Args: arr[1:]}, nil
}

func BuildEventPacket(namespace string, id *int, event string, args ...any) (string, error) {
	arr := make([]any, 0, 1+len(args))
	arr = append(arr, event)
	arr = append(arr, args...)
	data, err := json.Marshal(arr)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(byte(SocketEvent))
	if namespace != "" && namespace != "/" {
		b.WriteString(namespace)
		b.WriteByte(',')
	}
	if id != nil {
		b.WriteString(strconv.Itoa(*id))
	}
	b.Write(data)
	return b.String(), nil
}

// BuildConnectPacket builds a socket connect payload. The client sends its
// handshake auth object here; the server replies with {"sid": ...}.
func BuildConnectPacket(namespace string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(byte(SocketConnect))
	if namespace != "" && namespace != "/" {
		b.WriteString(namespace)
		b.WriteByte(',')
	}
	b.Write(data)
	return b.String(), nil
}

// BuildConnectAck builds the server's reply to a successful connect.
func BuildConnectAck(sid string) (string, error) {
	data, err := json.Marshal(struct {
		SID string `json:"sid"`
	}{SID: sid})
	if err != nil {
		return "", err
	}
	return string(SocketConnect) + string(data), nil
}

// BuildConnectErrorPacket builds a namespace rejection.
func BuildConnectErrorPacket(message string) (string, error) {
	data, err := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: message})
	if err != nil {
		return "", err
	}
	return string(SocketConnectError) + string(data), nil
}

// ParseConnectPayload strips the connect type byte and namespace, returning
// the raw JSON body of a socket connect packet.
func ParseConnectPayload(payload string) (string, error) {
	if payload == "" || payload[0] != byte(SocketConnect) {
		return "", errors.New("not a connect packet")
	}
	_, rest := parseOptionalNamespace(payload[1:])
	return rest, nil
}
