package dht

import (
	"fmt"
	"net/netip"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// ============================================================================
//                              协议常量
// ============================================================================

const (
	// wireMagic 报文首字节
	wireMagic byte = 'K'

	// wireVersion 协议版本
	wireVersion byte = 1

	// MaxMessageSize 单个报文的最大字节数（留出 IPv6 + UDP 头部余量）
	MaxMessageSize = 1400

	// maxRecordsPerReply FIND_VALUE_RESULT 中携带的记录上限
	maxRecordsPerReply = 20

	// tokenSize 发布令牌长度
	tokenSize = 8

	// maxErrorLen ERROR 报文中原因字符串的最大长度
	maxErrorLen = 128
)

// 字段编号
const (
	fieldKind     protowire.Number = 1
	fieldNonce    protowire.Number = 2
	fieldSender   protowire.Number = 3
	fieldTarget   protowire.Number = 4
	fieldContact  protowire.Number = 5
	fieldRecord   protowire.Number = 6
	fieldPort     protowire.Number = 7
	fieldTTL      protowire.Number = 8
	fieldToken    protowire.Number = 9
	fieldError    protowire.Number = 10
	fieldEntryID  protowire.Number = 1
	fieldEntryIP  protowire.Number = 2
	fieldEntryPrt protowire.Number = 3
	fieldEntryTTL protowire.Number = 3
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageKind 消息类型
type MessageKind uint8

const (
	// KindPing 存活探测
	KindPing MessageKind = iota + 1
	// KindPong 存活探测响应
	KindPong
	// KindFindNode 查找节点请求
	KindFindNode
	// KindFindNodeResult 查找节点响应
	KindFindNodeResult
	// KindFindValue 查找记录请求
	KindFindValue
	// KindFindValueResult 查找记录响应
	KindFindValueResult
	// KindAnnounce 发布记录请求
	KindAnnounce
	// KindAnnounceAck 发布记录响应
	KindAnnounceAck
	// KindError 错误响应
	KindError
)

// String 返回消息类型的字符串表示
func (k MessageKind) String() string {
	switch k {
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindFindNode:
		return "FIND_NODE"
	case KindFindNodeResult:
		return "FIND_NODE_RESULT"
	case KindFindValue:
		return "FIND_VALUE"
	case KindFindValueResult:
		return "FIND_VALUE_RESULT"
	case KindAnnounce:
		return "ANNOUNCE"
	case KindAnnounceAck:
		return "ANNOUNCE_ACK"
	case KindError:
		return "ERROR"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// IsRequest 是否为请求
func (k MessageKind) IsRequest() bool {
	switch k {
	case KindPing, KindFindNode, KindFindValue, KindAnnounce:
		return true
	}
	return false
}

// ReplyKind 返回请求对应的成功响应类型
func (k MessageKind) ReplyKind() MessageKind {
	switch k {
	case KindPing:
		return KindPong
	case KindFindNode:
		return KindFindNodeResult
	case KindFindValue:
		return KindFindValueResult
	case KindAnnounce:
		return KindAnnounceAck
	}
	return 0
}

func (k MessageKind) valid() bool {
	return k >= KindPing && k <= KindError
}

func (k MessageKind) needsTarget() bool {
	return k == KindFindNode || k == KindFindValue || k == KindAnnounce
}

// ============================================================================
//                              消息结构
// ============================================================================

// PeerInfo 报文中携带的联系人
type PeerInfo struct {
	ID   types.NodeID
	Addr netip.AddrPort
}

// RecordInfo 报文中携带的记录
type RecordInfo struct {
	Addr netip.AddrPort
	TTL  time.Duration
}

// Message DHT 协议消息
type Message struct {
	Kind     MessageKind
	Nonce    uint64
	Sender   types.NodeID
	Target   types.NodeID
	Contacts []PeerInfo
	Records  []RecordInfo
	Port     uint16
	TTL      time.Duration
	Token    []byte
	Error    string
}

// ============================================================================
//                              编码
// ============================================================================

// Marshal 编码消息
func (m *Message) Marshal() []byte {
	b := make([]byte, 0, 256)
	b = append(b, wireMagic, wireVersion)

	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Kind))
	b = protowire.AppendTag(b, fieldNonce, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, m.Nonce)
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Sender[:])

	if m.Kind.needsTarget() || !m.Target.IsEmpty() {
		b = protowire.AppendTag(b, fieldTarget, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Target[:])
	}
	for _, c := range m.Contacts {
		b = protowire.AppendTag(b, fieldContact, protowire.BytesType)
		b = protowire.AppendBytes(b, appendContact(nil, c))
	}
	for _, r := range m.Records {
		b = protowire.AppendTag(b, fieldRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, appendRecord(nil, r))
	}
	if m.Port != 0 {
		b = protowire.AppendTag(b, fieldPort, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Port))
	}
	if m.TTL > 0 {
		b = protowire.AppendTag(b, fieldTTL, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.TTL/time.Second))
	}
	if len(m.Token) > 0 {
		b = protowire.AppendTag(b, fieldToken, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Token)
	}
	if m.Error != "" {
		reason := m.Error
		if len(reason) > maxErrorLen {
			reason = reason[:maxErrorLen]
		}
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendString(b, reason)
	}
	return b
}

func appendAddr(b []byte, addr netip.AddrPort) []byte {
	ip := addr.Addr().Unmap()
	b = protowire.AppendTag(b, fieldEntryIP, protowire.BytesType)
	b = protowire.AppendBytes(b, ip.AsSlice())
	b = protowire.AppendTag(b, fieldEntryPrt, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(addr.Port()))
}

func appendContact(b []byte, c PeerInfo) []byte {
	b = protowire.AppendTag(b, fieldEntryID, protowire.BytesType)
	b = protowire.AppendBytes(b, c.ID[:])
	return appendAddr(b, c.Addr)
}

// 记录条目：1 ip，2 port，3 ttl
func appendRecord(b []byte, r RecordInfo) []byte {
	ip := r.Addr.Addr().Unmap()
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, ip.AsSlice())
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Addr.Port()))
	b = protowire.AppendTag(b, fieldEntryTTL, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(r.TTL/time.Second))
}

// ============================================================================
//                              解码
// ============================================================================

func protoErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// walkFields 依次解析 b 中的字段
//
// fn 返回消费的字节数；返回 0 表示未知字段，由 walkFields 跳过。
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protoErr("bad tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protoErr("field %d: %v", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func wantType(num protowire.Number, got, want protowire.Type) error {
	if got != want {
		return protoErr("field %d: wire type %d, want %d", num, got, want)
	}
	return nil
}

func decodeID(num protowire.Number, typ protowire.Type, b []byte) (types.NodeID, int, error) {
	if err := wantType(num, typ, protowire.BytesType); err != nil {
		return types.EmptyNodeID, 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return types.EmptyNodeID, n, nil
	}
	id, err := types.NodeIDFromBytes(v)
	if err != nil {
		return types.EmptyNodeID, 0, protoErr("field %d: id length %d", num, len(v))
	}
	return id, n, nil
}

func decodeIP(num protowire.Number, typ protowire.Type, b []byte) (netip.Addr, int, error) {
	if err := wantType(num, typ, protowire.BytesType); err != nil {
		return netip.Addr{}, 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return netip.Addr{}, n, nil
	}
	if len(v) != 4 && len(v) != 16 {
		return netip.Addr{}, 0, protoErr("field %d: ip length %d", num, len(v))
	}
	ip, _ := netip.AddrFromSlice(v)
	return ip.Unmap(), n, nil
}

func decodeVarint(num protowire.Number, typ protowire.Type, b []byte, max uint64) (uint64, int, error) {
	if err := wantType(num, typ, protowire.VarintType); err != nil {
		return 0, 0, err
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, n, nil
	}
	if v > max {
		return 0, 0, protoErr("field %d: value %d out of range", num, v)
	}
	return v, n, nil
}

func decodeContact(b []byte) (PeerInfo, error) {
	var (
		c     PeerInfo
		ip    netip.Addr
		port  uint64
		haveI bool
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var (
			n   int
			err error
		)
		switch num {
		case fieldEntryID:
			c.ID, n, err = decodeID(num, typ, b)
			haveI = true
		case fieldEntryIP:
			ip, n, err = decodeIP(num, typ, b)
		case fieldEntryPrt:
			port, n, err = decodeVarint(num, typ, b, 0xFFFF)
		}
		return n, err
	})
	if err != nil {
		return c, err
	}
	if !haveI || !ip.IsValid() || port == 0 {
		return c, protoErr("incomplete contact")
	}
	c.Addr = netip.AddrPortFrom(ip, uint16(port))
	return c, nil
}

func decodeRecord(b []byte) (RecordInfo, error) {
	var (
		r    RecordInfo
		ip   netip.Addr
		port uint64
		ttl  uint64
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var (
			n   int
			err error
		)
		switch num {
		case 1:
			ip, n, err = decodeIP(num, typ, b)
		case 2:
			port, n, err = decodeVarint(num, typ, b, 0xFFFF)
		case fieldEntryTTL:
			ttl, n, err = decodeVarint(num, typ, b, 1<<32)
		}
		return n, err
	})
	if err != nil {
		return r, err
	}
	if !ip.IsValid() || port == 0 {
		return r, protoErr("incomplete record")
	}
	r.Addr = netip.AddrPortFrom(ip, uint16(port))
	r.TTL = time.Duration(ttl) * time.Second
	return r, nil
}

// UnmarshalMessage 解码消息
//
// 任何格式错误都返回包装了 ErrProtocol 的错误。
func UnmarshalMessage(data []byte) (*Message, error) {
	if len(data) < 2 {
		return nil, protoErr("short datagram (%d bytes)", len(data))
	}
	if data[0] != wireMagic {
		return nil, protoErr("bad magic 0x%02x", data[0])
	}
	if data[1] != wireVersion {
		return nil, protoErr("unsupported version %d", data[1])
	}

	m := &Message{}
	var haveNonce, haveSender, haveTarget bool

	err := walkFields(data[2:], func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldKind:
			v, n, err := decodeVarint(num, typ, b, 0xFF)
			m.Kind = MessageKind(v)
			return n, err
		case fieldNonce:
			if err := wantType(num, typ, protowire.Fixed64Type); err != nil {
				return 0, err
			}
			v, n := protowire.ConsumeFixed64(b)
			m.Nonce = v
			haveNonce = true
			return n, nil
		case fieldSender:
			id, n, err := decodeID(num, typ, b)
			m.Sender = id
			haveSender = true
			return n, err
		case fieldTarget:
			id, n, err := decodeID(num, typ, b)
			m.Target = id
			haveTarget = true
			return n, err
		case fieldContact, fieldRecord:
			if err := wantType(num, typ, protowire.BytesType); err != nil {
				return 0, err
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if num == fieldContact {
				c, err := decodeContact(v)
				if err != nil {
					return 0, err
				}
				m.Contacts = append(m.Contacts, c)
			} else {
				r, err := decodeRecord(v)
				if err != nil {
					return 0, err
				}
				m.Records = append(m.Records, r)
			}
			return n, nil
		case fieldPort:
			v, n, err := decodeVarint(num, typ, b, 0xFFFF)
			m.Port = uint16(v)
			return n, err
		case fieldTTL:
			v, n, err := decodeVarint(num, typ, b, 1<<32)
			m.TTL = time.Duration(v) * time.Second
			return n, err
		case fieldToken:
			if err := wantType(num, typ, protowire.BytesType); err != nil {
				return 0, err
			}
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				m.Token = append([]byte(nil), v...)
			}
			return n, nil
		case fieldError:
			if err := wantType(num, typ, protowire.BytesType); err != nil {
				return 0, err
			}
			v, n := protowire.ConsumeString(b)
			m.Error = v
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case !m.Kind.valid():
		return nil, protoErr("unknown kind %d", m.Kind)
	case !haveNonce:
		return nil, protoErr("%s without nonce", m.Kind)
	case !haveSender:
		return nil, protoErr("%s without sender", m.Kind)
	case m.Kind.needsTarget() && !haveTarget:
		return nil, protoErr("%s without target", m.Kind)
	case m.Kind == KindAnnounce && m.Port == 0:
		return nil, protoErr("ANNOUNCE without port")
	}
	return m, nil
}
