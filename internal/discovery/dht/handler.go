package dht

import (
	"errors"
	"net/netip"
	"time"
)

// 丢弃原因（用于指标）
const (
	dropMalformed   = "malformed"
	dropSelf        = "self"
	dropRateLimited = "rate_limited"
	dropUnmatched   = "unmatched"
)

// ERROR 报文中的原因字符串
const (
	reasonBadToken = "bad token"
	reasonCapacity = "capacity"
)

// onDatagram 处理一个入站报文
func (d *DHT) onDatagram(data []byte, src netip.AddrPort) {
	msg, err := UnmarshalMessage(data)
	if err != nil {
		logger.Debug("丢弃格式错误的报文", "src", src, "len", len(data), "error", err)
		d.metrics.MessageDropped(dropMalformed)
		return
	}
	if msg.Sender == d.self {
		d.metrics.MessageDropped(dropSelf)
		return
	}
	d.metrics.MessageReceived(msg.Kind)

	if msg.Kind.IsRequest() {
		if !d.limiter.Allow(src.Addr(), d.clock.Now()) {
			d.metrics.MessageDropped(dropRateLimited)
			return
		}
		d.table.InsertOrRefresh(Contact{ID: msg.Sender, Addr: src})
		if d.stopping {
			return
		}
		d.handleRequest(msg, src)
		return
	}

	tx, ok := d.completeTransaction(msg, src)
	if !ok {
		d.metrics.MessageDropped(dropUnmatched)
		return
	}

	// 只对未重传的请求采样 RTT
	var rtt time.Duration
	if tx.retries == 0 {
		rtt = d.clock.Since(tx.lastSent)
	}
	d.table.InsertOrRefresh(Contact{ID: msg.Sender, Addr: src, RTT: rtt})

	if msg.Kind == KindError {
		cause := ErrRemote
		if msg.Error == reasonBadToken {
			cause = ErrBadToken
		}
		tx.onFail(NewDHTError(tx.kind.String(), cause, msg.Error))
		return
	}
	tx.onReply(msg, rtt)
}

// handleRequest 同步响应请求
func (d *DHT) handleRequest(msg *Message, src netip.AddrPort) {
	switch msg.Kind {
	case KindPing:
		d.reply(src, msg, &Message{Kind: KindPong})

	case KindFindNode:
		d.reply(src, msg, &Message{
			Kind:     KindFindNodeResult,
			Target:   msg.Target,
			Contacts: d.closestPeers(msg.Target, msg.Sender),
			Token:    d.tokens.Issue(src.Addr()),
		})

	case KindFindValue:
		resp := &Message{
			Kind:   KindFindValueResult,
			Target: msg.Target,
			Token:  d.tokens.Issue(src.Addr()),
		}
		now := d.clock.Now()
		if rec, ok := d.store.LookupLocal(msg.Target); ok {
			// 本节点不知道自己的对外 IP：未指定 IP 由请求方替换为响应源 IP
			resp.Records = append(resp.Records, RecordInfo{
				Addr: netip.AddrPortFrom(unspecifiedAddr(src.Addr()), rec.Port),
				TTL:  d.localTTL(rec, now).Truncate(time.Second),
			})
		}
		for _, r := range d.store.Lookup(msg.Target) {
			if len(resp.Records) >= maxRecordsPerReply {
				break
			}
			resp.Records = append(resp.Records, RecordInfo{
				Addr: r.Addr,
				TTL:  r.Expires.Sub(now).Truncate(time.Second),
			})
		}
		if len(resp.Records) == 0 {
			resp.Contacts = d.closestPeers(msg.Target, msg.Sender)
		}
		d.reply(src, msg, resp)

	case KindAnnounce:
		d.handleAnnounce(msg, src)
	}
}

// handleAnnounce 校验令牌后缓存对端发布的记录
//
// 记录地址取报文源 IP 加上报文中的端口。
func (d *DHT) handleAnnounce(msg *Message, src netip.AddrPort) {
	if !d.tokens.Verify(src.Addr(), msg.Token) {
		logger.Debug("ANNOUNCE 令牌无效", "src", src, "target", msg.Target.ShortString())
		d.reply(src, msg, &Message{Kind: KindError, Error: reasonBadToken})
		return
	}

	ttl := msg.TTL
	if ttl <= 0 {
		ttl = d.cfg.RecordTTL
	}
	if ttl > d.cfg.MaxRecordTTL {
		ttl = d.cfg.MaxRecordTTL
	}

	addr := netip.AddrPortFrom(src.Addr(), msg.Port)
	if err := d.store.Cache(msg.Target, addr, ttl); err != nil {
		if errors.Is(err, ErrCapacity) {
			logger.Debug("记录表已满，拒绝 ANNOUNCE", "target", msg.Target.ShortString())
		}
		d.reply(src, msg, &Message{Kind: KindError, Error: reasonCapacity})
		return
	}

	logger.Debug("缓存远端记录", "id", msg.Target.ShortString(), "addr", addr, "ttl", ttl)
	d.reply(src, msg, &Message{Kind: KindAnnounceAck, Target: msg.Target, TTL: ttl})
}

// unspecifiedAddr 返回与 ip 同族的未指定地址
func unspecifiedAddr(ip netip.Addr) netip.Addr {
	if ip.Is4() {
		return netip.IPv4Unspecified()
	}
	return netip.IPv6Unspecified()
}
