package group

import "github.com/fxamacker/cbor/v2"

// Message is the CBOR wire payload published to a group topic. It
// covers both a plain text post and a file-share announcement in one
// struct, distinguished by HasFileShare, the same shape spec §3's
// GroupMessage/GroupFileShareMessage pair collapses to on the wire.
type Message struct {
	FromNickname string `cbor:"from_nickname"`
	Text         string `cbor:"text,omitempty"`
	HasFileShare bool   `cbor:"has_file_share"`
	ShareCode    string `cbor:"share_code,omitempty"`
	Filename     string `cbor:"filename,omitempty"`
	FileSize     int64  `cbor:"file_size,omitempty"`
	FileType     string `cbor:"file_type,omitempty"`
}

func encode(m Message) ([]byte, error) {
	return cbor.Marshal(m)
}

func decode(data []byte) (Message, error) {
	var m Message
	err := cbor.Unmarshal(data, &m)
	return m, err
}
