package command

import (
	"encoding/hex"
	"fmt"

	"github.com/valerka1292/tankidecode/internal/model"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// Control command ids.
const (
	ClientHashRequest     byte = 1
	ClientSpaceOpened     byte = 3
	ClientCommandResponse byte = 10
	ClientLog             byte = 32

	ServerHashResponse   byte = 2
	ServerCommandRequest byte = 9
	ServerOpenSpace      byte = 32
	ServerMessage        byte = 35
)

// HashSize is the length of the protocol hash exchanged during the handshake.
const HashSize = 32

var clientNames = map[byte]string{
	ClientHashRequest:     "CL_HASH_REQUEST",
	ClientSpaceOpened:     "CL_SPACE_OPENED",
	ClientLog:             "CL_LOG",
	ClientCommandResponse: "CL_COMMAND_RESPONSE",
}

var serverNames = map[byte]string{
	ServerHashResponse:   "SV_HASH_RESPONSE",
	ServerOpenSpace:      "SV_OPEN_SPACE",
	ServerMessage:        "SV_MESSAGE",
	ServerCommandRequest: "SV_COMMAND_REQUEST",
}

// ClientControlDecoder decodes handshake commands sent by the client.
type ClientControlDecoder struct{}

func (ClientControlDecoder) Decode(c *wire.Cursor, _ *wire.OptionalBitmap) (*Command, error) {
	id, err := c.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("control command id: %w", err)
	}
	cmd := &Command{Kind: KindControl, ID: id, Name: clientNames[id]}

	switch id {
	case ClientHashRequest:
		keys, err := readStrings(c)
		if err != nil {
			return nil, fmt.Errorf("%s keys: %w", cmd.Name, err)
		}
		values, err := readStrings(c)
		if err != nil {
			return nil, fmt.Errorf("%s values: %w", cmd.Name, err)
		}
		params := model.NewObject("params")
		for i := 0; i < len(keys) && i < len(values); i++ {
			params.Set(keys[i], values[i])
		}
		cmd.Data = model.NewObject(cmd.Name)
		cmd.Data.Set("params", params)
	case ClientSpaceOpened:
		hash, err := readHash(c)
		if err != nil {
			return nil, fmt.Errorf("%s hash: %w", cmd.Name, err)
		}
		spaceID, err := c.ReadUint64()
		if err != nil {
			return nil, fmt.Errorf("%s space_id: %w", cmd.Name, err)
		}
		cmd.Data = model.NewObject(cmd.Name)
		cmd.Data.Set("hash", hash)
		cmd.Data.Set("space_id", spaceID)
	}
	return cmd, nil
}

// ServerControlDecoder decodes handshake commands sent by the server.
type ServerControlDecoder struct{}

func (ServerControlDecoder) Decode(c *wire.Cursor, _ *wire.OptionalBitmap) (*Command, error) {
	id, err := c.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("control command id: %w", err)
	}
	cmd := &Command{Kind: KindControl, ID: id, Name: serverNames[id]}

	switch id {
	case ServerHashResponse:
		hash, err := readHash(c)
		if err != nil {
			return nil, fmt.Errorf("%s hash: %w", cmd.Name, err)
		}
		encrypt, err := c.ReadBool()
		if err != nil {
			return nil, fmt.Errorf("%s encrypt: %w", cmd.Name, err)
		}
		cmd.Data = model.NewObject(cmd.Name)
		cmd.Data.Set("hash", hash)
		cmd.Data.Set("encrypt", encrypt)
	case ServerOpenSpace:
		spaceID, err := c.ReadUint64()
		if err != nil {
			return nil, fmt.Errorf("%s space_id: %w", cmd.Name, err)
		}
		cmd.Data = model.NewObject(cmd.Name)
		cmd.Data.Set("space_id", spaceID)
	}
	return cmd, nil
}

// ControlDecoder returns the control decoder for one direction.
func ControlDecoder(outgoing bool) Decoder {
	if outgoing {
		return ClientControlDecoder{}
	}
	return ServerControlDecoder{}
}

func readStrings(c *wire.Cursor) ([]string, error) {
	n, err := wire.DecodeLength(c)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for range n {
		s, err := c.ReadString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func readHash(c *wire.Cursor) (string, error) {
	b, err := c.ReadBytes(HashSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Hash returns the raw protocol hash of a CL_SPACE_OPENED or SV_HASH_RESPONSE command.
func (c *Command) Hash() ([HashSize]byte, bool) {
	var out [HashSize]byte
	if c.Data == nil {
		return out, false
	}
	v, ok := c.Data.Get("hash")
	if !ok {
		return out, false
	}
	s, _ := v.(string)
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != HashSize {
		return out, false
	}
	copy(out[:], b)
	return out, true
}

// SpaceID returns the space id of a CL_SPACE_OPENED or SV_OPEN_SPACE command.
func (c *Command) SpaceID() (uint64, bool) {
	if c.Data == nil {
		return 0, false
	}
	v, ok := c.Data.Get("space_id")
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// Encrypt reports whether a SV_HASH_RESPONSE enabled stream protection.
func (c *Command) Encrypt() bool {
	if c.Data == nil {
		return false
	}
	v, _ := c.Data.Get("encrypt")
	b, _ := v.(bool)
	return b
}
