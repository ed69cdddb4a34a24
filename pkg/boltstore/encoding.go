package boltstore

import (
	"bytes"
	"encoding/gob"

	"github.com/crystal-mush/gochanserv/pkg/chandb"
)

func init() {
	gob.Register(chandb.Account{})
	gob.Register(chandb.Channel{})
	gob.Register(chandb.PendingTransfer{})
}

// encodeAccount serializes an Account to bytes using gob.
func encodeAccount(a *chandb.Account) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeAccount deserializes bytes back into an Account.
func decodeAccount(data []byte) (*chandb.Account, error) {
	var a chandb.Account
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// encodeChannel serializes a Channel to bytes using gob.
func encodeChannel(ch *chandb.Channel) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ch); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeChannel deserializes bytes back into a Channel. Maps that gob
// left nil are allocated so callers can write to them.
func decodeChannel(data []byte) (*chandb.Channel, error) {
	var ch chandb.Channel
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ch); err != nil {
		return nil, err
	}
	if ch.Access == nil {
		ch.Access = make(map[string]chandb.Role)
	}
	if ch.Metadata == nil {
		ch.Metadata = make(map[string]string)
	}
	return &ch, nil
}
