package dht

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dep2p/go-kadnode/pkg/types"
)

// ============================================================================
//                              事务
// ============================================================================

// transaction 一个在途请求
type transaction struct {
	nonce    uint64
	kind     MessageKind
	addr     netip.AddrPort
	peer     types.NodeID
	payload  []byte
	lastSent time.Time
	retries  int
	deadline time.Time
	backoff  backoff.BackOff
	timer    *timerEntry

	onReply func(msg *Message, rtt time.Duration)
	onFail  func(err error)
}

// newBackOff 创建重传间隔序列：首个间隔为 RequestTimeout，之后指数增长
func (d *DHT) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.cfg.RequestTimeout
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.1
	exp.MaxInterval = d.cfg.RequestTimeout * 8
	exp.MaxElapsedTime = 0
	exp.Clock = d.clock
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(d.cfg.MaxRetries)+1)
}

// finalDeadline 事务的兜底截止时间，超过后由过期任务强制清理
func (d *DHT) finalDeadline(start time.Time) time.Time {
	return start.Add(d.cfg.RequestTimeout * time.Duration(4<<d.cfg.MaxRetries))
}

// newNonce 生成在途事务中唯一的随机 nonce
func (d *DHT) newNonce() uint64 {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		n := binary.BigEndian.Uint64(b[:])
		if _, used := d.txs[n]; n != 0 && !used {
			return n
		}
	}
}

// sendRequest 发送请求并登记事务
//
// peer 为空表示对端 ID 未知（如引导地址）。onReply / onFail 恰好调用其一，
// 且都在事件循环中执行。
func (d *DHT) sendRequest(addr netip.AddrPort, peer types.NodeID, msg *Message,
	onReply func(msg *Message, rtt time.Duration), onFail func(err error)) {

	if onReply == nil {
		onReply = func(*Message, time.Duration) {}
	}
	if onFail == nil {
		onFail = func(error) {}
	}
	if d.stopping {
		onFail(ErrClosed)
		return
	}
	if len(d.txs) >= d.cfg.MaxTransactions {
		onFail(NewDHTError(msg.Kind.String(), ErrCapacity, "too many pending requests"))
		return
	}

	addr = normalizeAddrPort(addr)
	msg.Nonce = d.newNonce()
	msg.Sender = d.self

	now := d.clock.Now()
	tx := &transaction{
		nonce:    msg.Nonce,
		kind:     msg.Kind,
		addr:     addr,
		peer:     peer,
		payload:  msg.Marshal(),
		lastSent: now,
		deadline: d.finalDeadline(now),
		backoff:  d.newBackOff(),
		onReply:  onReply,
		onFail:   onFail,
	}
	d.txs[tx.nonce] = tx

	d.transmit(tx.payload, addr, tx.kind)
	d.armRetransmit(tx, now)
}

func (d *DHT) armRetransmit(tx *transaction, now time.Time) {
	delay := tx.backoff.NextBackOff()
	if delay == backoff.Stop {
		d.failTransaction(tx, ErrTimeout)
		return
	}
	tx.timer = d.timers.Schedule(now.Add(delay), func() { d.onRequestTimeout(tx) })
}

// onRequestTimeout 单次等待超时：重传或宣告失败
func (d *DHT) onRequestTimeout(tx *transaction) {
	if d.txs[tx.nonce] != tx {
		return
	}
	now := d.clock.Now()
	delay := tx.backoff.NextBackOff()
	if delay == backoff.Stop {
		d.failTransaction(tx, ErrTimeout)
		return
	}
	tx.retries++
	tx.lastSent = now
	d.transmit(tx.payload, tx.addr, tx.kind)
	tx.timer = d.timers.Schedule(now.Add(delay), func() { d.onRequestTimeout(tx) })
	logger.Debug("请求重传", "kind", tx.kind, "addr", tx.addr, "retry", tx.retries)
}

// failTransaction 结束事务并回调失败
func (d *DHT) failTransaction(tx *transaction, err error) {
	if d.txs[tx.nonce] != tx {
		return
	}
	delete(d.txs, tx.nonce)
	tx.timer.Cancel()

	if errors.Is(err, ErrTimeout) {
		d.metrics.RequestTimedOut(tx.kind)
		if !tx.peer.IsEmpty() {
			if d.table.MarkUnreachable(tx.peer) {
				logger.Debug("联系人连续超时，已驱逐", "peer", tx.peer.ShortString(), "addr", tx.addr)
			}
		}
	}
	tx.onFail(NewDHTError(tx.kind.String(), err, tx.addr.String()))
}

// completeTransaction 匹配响应：nonce、源地址和响应类型都必须一致
func (d *DHT) completeTransaction(msg *Message, src netip.AddrPort) (*transaction, bool) {
	tx, ok := d.txs[msg.Nonce]
	if !ok || tx.addr != src {
		return nil, false
	}
	if msg.Kind != tx.kind.ReplyKind() && msg.Kind != KindError {
		return nil, false
	}
	delete(d.txs, tx.nonce)
	tx.timer.Cancel()
	return tx, true
}

// expireTransactions 清理超过兜底截止时间的事务
func (d *DHT) expireTransactions(now time.Time) int {
	var stale []*transaction
	for _, tx := range d.txs {
		if now.After(tx.deadline) {
			stale = append(stale, tx)
		}
	}
	for _, tx := range stale {
		d.failTransaction(tx, ErrTimeout)
	}
	return len(stale)
}

// transmit 发送一个报文，失败只记录日志
func (d *DHT) transmit(payload []byte, addr netip.AddrPort, kind MessageKind) {
	if _, err := d.conn.WriteTo(payload, net.UDPAddrFromAddrPort(addr)); err != nil {
		logger.Debug("发送报文失败", "kind", kind, "addr", addr, "error", err)
		return
	}
	d.metrics.MessageSent(kind)
}

// reply 发送响应（不登记事务）
func (d *DHT) reply(addr netip.AddrPort, req *Message, resp *Message) {
	resp.Nonce = req.Nonce
	resp.Sender = d.self

	payload := resp.Marshal()
	for len(payload) > MaxMessageSize && (len(resp.Contacts) > 0 || len(resp.Records) > 0) {
		if len(resp.Records) > 0 {
			resp.Records = resp.Records[:len(resp.Records)-1]
		} else {
			resp.Contacts = resp.Contacts[:len(resp.Contacts)-1]
		}
		payload = resp.Marshal()
	}
	d.transmit(payload, addr, resp.Kind)
}

// normalizeAddrPort 将 IPv4 映射地址还原为 IPv4
func normalizeAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// addrPortOf 从 net.Addr 提取 netip.AddrPort
func addrPortOf(addr net.Addr) (netip.AddrPort, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap := a.AddrPort()
		return normalizeAddrPort(ap), ap.IsValid()
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}, false
		}
		return normalizeAddrPort(ap), true
	}
}
