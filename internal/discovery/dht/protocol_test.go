package dht

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// TestMessageKind_String 测试消息类型名称与请求/响应配对
func TestMessageKind_String(t *testing.T) {
	assert.Equal(t, "FIND_VALUE", KindFindValue.String())
	assert.Equal(t, "KIND(99)", MessageKind(99).String())

	assert.True(t, KindAnnounce.IsRequest())
	assert.False(t, KindAnnounceAck.IsRequest())
	assert.Equal(t, KindFindNodeResult, KindFindNode.ReplyKind())
	assert.Equal(t, MessageKind(0), KindPong.ReplyKind())
}

// TestMessage_FindNodeResultRoundTrip 测试携带 IPv4/IPv6 联系人的响应编解码
func TestMessage_FindNodeResultRoundTrip(t *testing.T) {
	msg := &Message{
		Kind:   KindFindNodeResult,
		Nonce:  0xDEADBEEFCAFE,
		Sender: types.RandomNodeID(),
		Target: types.RandomNodeID(),
		Contacts: []PeerInfo{
			{ID: types.RandomNodeID(), Addr: netip.MustParseAddrPort("192.0.2.7:6881")},
			{ID: types.RandomNodeID(), Addr: netip.MustParseAddrPort("[2001:db8::1]:7000")},
		},
		Token: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	got, err := UnmarshalMessage(msg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

// TestMessage_AnnounceAndRecords 测试发布请求与记录响应
func TestMessage_AnnounceAndRecords(t *testing.T) {
	ann := &Message{
		Kind:   KindAnnounce,
		Nonce:  7,
		Sender: types.RandomNodeID(),
		Target: types.RandomNodeID(),
		Port:   8080,
		TTL:    45 * time.Minute,
		Token:  []byte("12345678"),
	}
	got, err := UnmarshalMessage(ann.Marshal())
	require.NoError(t, err)
	assert.Equal(t, ann, got)

	res := &Message{
		Kind:   KindFindValueResult,
		Nonce:  8,
		Sender: types.RandomNodeID(),
		Target: types.RandomNodeID(),
		Records: []RecordInfo{
			{Addr: netip.MustParseAddrPort("198.51.100.2:80"), TTL: 90 * time.Second},
		},
	}
	got, err = UnmarshalMessage(res.Marshal())
	require.NoError(t, err)
	assert.Equal(t, res, got)
}

// TestUnmarshalMessage_Malformed 测试格式错误的报文都返回 ErrProtocol
func TestUnmarshalMessage_Malformed(t *testing.T) {
	valid := (&Message{Kind: KindPing, Nonce: 1, Sender: types.RandomNodeID()}).Marshal()

	noTarget := (&Message{Kind: KindPing, Nonce: 1, Sender: types.RandomNodeID()}).Marshal()
	noTarget[2+1] = byte(KindFindNode) // kind 字段的值

	badContact := append([]byte(nil), valid...)
	badContact = protowire.AppendTag(badContact, fieldContact, protowire.BytesType)
	inner := protowire.AppendTag(nil, fieldEntryIP, protowire.BytesType)
	inner = protowire.AppendBytes(inner, []byte{1, 2, 3})
	badContact = protowire.AppendBytes(badContact, inner)

	wrongType := append([]byte(nil), valid...)
	wrongType = protowire.AppendTag(wrongType, fieldPort, protowire.BytesType)
	wrongType = protowire.AppendBytes(wrongType, []byte{1})

	cases := map[string][]byte{
		"empty":       nil,
		"bad magic":   append([]byte{'X'}, valid[1:]...),
		"bad version": append([]byte{'K', 9}, valid[2:]...),
		"truncated":   valid[:len(valid)-3],
		"no target":   noTarget,
		"bad contact": badContact,
		"wrong type":  wrongType,
		"unknown kind": protowire.AppendVarint(
			protowire.AppendTag([]byte{'K', 1}, fieldKind, protowire.VarintType), 42),
	}
	for name, data := range cases {
		_, err := UnmarshalMessage(data)
		assert.ErrorIs(t, err, ErrProtocol, name)
	}
}

// TestUnmarshalMessage_SkipsUnknownFields 测试未知字段被跳过
func TestUnmarshalMessage_SkipsUnknownFields(t *testing.T) {
	msg := &Message{Kind: KindPong, Nonce: 3, Sender: types.RandomNodeID()}
	data := msg.Marshal()
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))

	got, err := UnmarshalMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

// TestMessage_FullResultFitsDatagram 测试 K 个 IPv6 联系人的响应不超过报文上限
func TestMessage_FullResultFitsDatagram(t *testing.T) {
	msg := &Message{
		Kind:   KindFindNodeResult,
		Nonce:  1,
		Sender: types.RandomNodeID(),
		Target: types.RandomNodeID(),
		Token:  make([]byte, tokenSize),
	}
	for i := 0; i < DefaultConfig().BucketSize; i++ {
		msg.Contacts = append(msg.Contacts, PeerInfo{
			ID:   types.RandomNodeID(),
			Addr: netip.MustParseAddrPort("[2001:db8::ffff:1]:65535"),
		})
	}
	assert.LessOrEqual(t, len(msg.Marshal()), MaxMessageSize)
}
