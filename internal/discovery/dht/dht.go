package dht

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-kadnode/pkg/lib/log"
	"github.com/dep2p/go-kadnode/pkg/types"
)

var logger = log.Logger("discovery/dht")

// ============================================================================
//                              选项
// ============================================================================

// Option DHT 构造选项
type Option func(*DHT)

// WithClock 设置时间源（测试中使用 clock.Mock）
func WithClock(clk clock.Clock) Option {
	return func(d *DHT) {
		if clk != nil {
			d.clock = clk
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m Metrics) Option {
	return func(d *DHT) {
		if m != nil {
			d.metrics = m
		}
	}
}

// ============================================================================
//                              DHT 结构
// ============================================================================

type packet struct {
	data []byte
	src  netip.AddrPort
}

// DHT Kademlia DHT 引擎
//
// 路由表、记录存储、事务表、查询和到期队列全部由一个事件循环 goroutine 持有；
// 另一个 goroutine 阻塞在 ReadFrom 上，把报文副本转交给事件循环。
// 外部调用通过 calls 通道提交闭包，不直接访问内部状态。
type DHT struct {
	cfg       *Config
	self      types.NodeID
	conn      net.PacketConn
	localAddr netip.AddrPort
	clock     clock.Clock
	metrics   Metrics

	// 以下字段只在事件循环中访问
	table     *RoutingTable
	store     *RecordStore
	tokens    *tokenIssuer
	limiter   *inboundLimiter
	timers    timerQueue
	tasks     []*periodicTask
	txs       map[uint64]*transaction
	lookups   map[*lookup]struct{}
	stopping  bool
	startedAt time.Time

	calls   chan func()
	packets chan packet

	started  atomic.Bool
	quit     chan struct{}
	kill     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	killOnce sync.Once
	wg       sync.WaitGroup
}

// New 创建 DHT
//
// conn 的所有权转移给 DHT，Stop 时关闭。
func New(cfg *Config, conn net.PacketConn, opts ...Option) (*DHT, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, NewDHTError("new", ErrInvalidConfig, "nil packet conn")
	}

	d := &DHT{
		cfg:     cfg,
		self:    cfg.NodeID,
		conn:    conn,
		clock:   clock.New(),
		metrics: nopMetrics{},
		txs:     make(map[uint64]*transaction),
		lookups: make(map[*lookup]struct{}),
		calls:   make(chan func()),
		packets: make(chan packet, 256),
		quit:    make(chan struct{}),
		kill:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.self.IsEmpty() {
		d.self = types.RandomNodeID()
	}
	if ap, ok := addrPortOf(conn.LocalAddr()); ok {
		d.localAddr = ap
	}

	d.table = NewRoutingTable(d.self, cfg, d.clock)
	d.table.SetProber(d.probe)
	d.store = NewRecordStore(cfg, d.clock)
	d.tokens = newTokenIssuer()
	d.limiter = newInboundLimiter(cfg.RateLimit, cfg.RateBurst, cfg.RateLimitEntries)

	return d, nil
}

// Self 返回本地节点 ID
func (d *DHT) Self() types.NodeID {
	return d.self
}

// LocalAddr 返回本地 UDP 地址
func (d *DHT) LocalAddr() netip.AddrPort {
	return d.localAddr
}

// Config 返回配置（只读）
func (d *DHT) Config() *Config {
	return d.cfg
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动事件循环
func (d *DHT) Start(_ context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	d.startedAt = d.clock.Now()
	d.startMaintenance()

	d.wg.Add(2)
	go d.readLoop()
	go d.loop()

	logger.Info("DHT 已启动", "nodeID", d.self.String(), "addr", d.localAddr)
	return nil
}

// Stop 停止 DHT
//
// 不再接受新调用，等待在途请求最多 ShutdownGrace，之后强制失败剩余请求并关闭套接字。
func (d *DHT) Stop(ctx context.Context) error {
	if !d.started.Load() {
		return d.conn.Close()
	}
	d.quitOnce.Do(func() { close(d.quit) })

	grace := time.NewTimer(d.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-d.done:
	case <-grace.C:
		d.killOnce.Do(func() { close(d.kill) })
	case <-ctx.Done():
		d.killOnce.Do(func() { close(d.kill) })
	}
	<-d.done
	d.wg.Wait()

	logger.Info("DHT 已停止", "nodeID", d.self.ShortString())
	return nil
}

// loop 事件循环
func (d *DHT) loop() {
	defer d.wg.Done()
	defer close(d.done)

	timer := d.clock.Timer(time.Hour)
	quit := d.quit

	for {
		now := d.clock.Now()
		d.timers.RunDue(now)
		if d.stopping && len(d.txs) == 0 {
			d.shutdown()
			return
		}
		d.resetTimer(timer, now)

		select {
		case p := <-d.packets:
			d.onDatagram(p.data, p.src)
		case fn := <-d.calls:
			fn()
		case <-timer.C:
		case <-quit:
			quit = nil
			d.beginShutdown()
		case <-d.kill:
			d.shutdown()
			return
		}
	}
}

// resetTimer 将唯一的定时器重置为最早到期任务的时间
func (d *DHT) resetTimer(timer *clock.Timer, now time.Time) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if due, ok := d.timers.Next(); ok {
		timer.Reset(due.Sub(now))
	}
}

// readLoop 读取报文并转交事件循环
func (d *DHT) readLoop() {
	defer d.wg.Done()

	buf := make([]byte, 64*1024)
	for {
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-d.done:
				return
			default:
			}
			logger.Debug("读取报文失败", "error", err)
			continue
		}
		src, ok := addrPortOf(addr)
		if !ok {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case d.packets <- packet{data: data, src: src}:
		case <-d.done:
			return
		}
	}
}

func (d *DHT) beginShutdown() {
	d.stopping = true
	d.stopMaintenance()
	for l := range d.lookups {
		l.cancel(ErrClosed)
	}
	logger.Debug("DHT 开始关闭", "pending", len(d.txs))
}

func (d *DHT) shutdown() {
	d.stopping = true
	d.stopMaintenance()
	for l := range d.lookups {
		l.cancel(ErrClosed)
	}
	pending := make([]*transaction, 0, len(d.txs))
	for _, tx := range d.txs {
		pending = append(pending, tx)
	}
	for _, tx := range pending {
		d.failTransaction(tx, ErrClosed)
	}
	if err := d.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug("关闭套接字失败", "error", err)
	}
}

// probe 满桶时 PING 最久未见的联系人
func (d *DHT) probe(_ int, lrs Contact) {
	d.sendRequest(lrs.Addr, lrs.ID, &Message{Kind: KindPing},
		func(*Message, time.Duration) { d.table.ProbeResult(lrs.ID, true) },
		func(err error) { d.table.ProbeResult(lrs.ID, !errors.Is(err, ErrTimeout)) },
	)
}

// ============================================================================
//                              调用通道
// ============================================================================

// call 在事件循环中执行 fn 并等待其返回
func (d *DHT) call(ctx context.Context, op string, fn func()) error {
	if !d.started.Load() {
		return NewDHTError(op, ErrClosed, "not started")
	}
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}

	select {
	case d.calls <- wrapped:
	case <-d.quit:
		return NewDHTError(op, ErrClosed, "")
	case <-d.done:
		return NewDHTError(op, ErrClosed, "")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-d.done:
		return NewDHTError(op, ErrClosed, "")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post 异步提交 fn，不等待执行
func (d *DHT) post(fn func()) {
	go func() {
		select {
		case d.calls <- fn:
		case <-d.done:
		}
	}()
}

// runLookup 执行一次迭代查询并等待结果
//
// onResult 在事件循环中、结果返回前执行。
func (d *DHT) runLookup(ctx context.Context, op string, target types.NodeID, kind lookupKind,
	onResult func(LookupResult)) (LookupResult, error) {

	resCh := make(chan LookupResult, 1)
	var l *lookup
	err := d.call(ctx, op, func() {
		l = d.startLookup(target, kind, func(r LookupResult) {
			if onResult != nil {
				onResult(r)
			}
			resCh <- r
		})
	})
	if err != nil {
		return LookupResult{}, err
	}

	select {
	case r := <-resCh:
		if r.Err != nil {
			return r, NewDHTError(op, r.Err, target.ShortString())
		}
		return r, nil
	case <-ctx.Done():
		d.post(func() { l.cancel(ctx.Err()) })
		return LookupResult{}, ctx.Err()
	case <-d.done:
		return LookupResult{}, NewDHTError(op, ErrClosed, "")
	}
}

// ============================================================================
//                              公共 API
// ============================================================================

// Resolve 解析标识符
//
// 本地发布的标识符解析为回环地址；已缓存的记录立即返回；否则执行 find-value。
func (d *DHT) Resolve(ctx context.Context, id types.NodeID) ([]netip.AddrPort, error) {
	var (
		local  LocalRecord
		isMine bool
		cached []Record
	)
	if err := d.call(ctx, "resolve", func() {
		local, isMine = d.store.LookupLocal(id)
		if !isMine {
			cached = d.store.Lookup(id)
		}
	}); err != nil {
		return nil, err
	}

	if isMine {
		return d.loopback(local.Port), nil
	}
	if len(cached) > 0 {
		out := make([]netip.AddrPort, 0, len(cached))
		for _, r := range cached {
			out = append(out, r.Addr)
		}
		return out, nil
	}

	r, err := d.runLookup(ctx, "resolve", id, lookupValue, func(r LookupResult) {
		for _, rec := range r.Records {
			if err := d.store.Cache(id, rec.Addr, rec.TTL); err != nil {
				logger.Debug("缓存查询结果失败", "id", id.ShortString(), "error", err)
			}
		}
	})
	if err != nil {
		if errors.Is(err, ErrNoNearbyPeers) {
			return nil, NewDHTError("resolve", ErrNotFound, "no nearby peers")
		}
		return nil, err
	}

	seen := make(map[netip.AddrPort]struct{}, len(r.Records))
	out := make([]netip.AddrPort, 0, len(r.Records))
	for _, rec := range r.Records {
		if _, dup := seen[rec.Addr]; dup {
			continue
		}
		seen[rec.Addr] = struct{}{}
		out = append(out, rec.Addr)
	}
	return out, nil
}

// loopback 返回本地发布记录对应的回环地址
func (d *DHT) loopback(port uint16) []netip.AddrPort {
	v4 := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
	v6 := netip.AddrPortFrom(netip.IPv6Loopback(), port)

	ip := d.localAddr.Addr()
	switch {
	case ip.Is4():
		return []netip.AddrPort{v4}
	case ip.Is6() && !ip.IsUnspecified():
		return []netip.AddrPort{v6}
	default:
		return []netip.AddrPort{v4, v6}
	}
}

// Announce 发布本地记录并等待首次发布完成
//
// lifetime <= 0 表示持续到进程退出。同一标识符和端口的重复发布只续期，
// 不会触发新的网络发布。首次发布失败时记录仍然保留，由维护任务重试。
func (d *DHT) Announce(ctx context.Context, id types.NodeID, port uint16, lifetime time.Duration) error {
	var (
		res    AnnounceResult
		resErr error
	)
	if err := d.call(ctx, "announce", func() {
		res, resErr = d.store.AnnounceLocal(id, port, lifetime)
	}); err != nil {
		return err
	}
	if resErr != nil {
		return resErr
	}
	if res == AnnounceRefreshed {
		logger.Debug("续期本地记录", "id", id.ShortString(), "port", port)
		return nil
	}

	logger.Info("发布本地记录", "id", id.String(), "port", port, "lifetime", lifetime)

	type outcome struct {
		acks int
		err  error
	}
	resCh := make(chan outcome, 1)
	if err := d.call(ctx, "announce", func() {
		d.startAnnounce(id, func(acks int, err error) { resCh <- outcome{acks, err} })
	}); err != nil {
		return err
	}

	select {
	case o := <-resCh:
		if o.err != nil {
			return o.err
		}
		logger.Debug("首次发布完成", "id", id.ShortString(), "acks", o.acks)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return NewDHTError("announce", ErrClosed, "")
	}
}

// Unannounce 移除本地记录，已发布到网络的副本自然过期
func (d *DHT) Unannounce(ctx context.Context, id types.NodeID) (bool, error) {
	var removed bool
	err := d.call(ctx, "unannounce", func() {
		removed = d.store.RemoveLocal(id)
	})
	return removed, err
}

// localTTL 本地记录对外公布的有效期，不超过 RecordTTL 和剩余寿命
func (d *DHT) localTTL(rec LocalRecord, now time.Time) time.Duration {
	ttl := d.cfg.RecordTTL
	if !rec.Expires.IsZero() {
		if remaining := rec.Expires.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

// startAnnounce 向距离 id 最近的节点发布记录
//
// 先 find-node 收集令牌，再向前 ReplicationFactor 个响应节点发送 ANNOUNCE。
func (d *DHT) startAnnounce(id types.NodeID, onDone func(acks int, err error)) {
	rec, ok := d.store.LookupLocal(id)
	if !ok {
		onDone(0, NewDHTError("announce", ErrNotFound, id.ShortString()))
		return
	}

	now := d.clock.Now()
	d.store.MarkAnnounced(id, now)

	ttl := d.localTTL(rec, now)

	d.startLookup(id, lookupNode, func(r LookupResult) {
		if r.Err != nil {
			d.store.RetryAnnounce(id)
			onDone(0, NewDHTError("announce", r.Err, id.ShortString()))
			return
		}

		var targets []PeerInfo
		for _, p := range r.Closest {
			if len(r.Tokens[p.ID]) == 0 {
				continue
			}
			targets = append(targets, p)
			if len(targets) >= d.cfg.ReplicationFactor {
				break
			}
		}
		if len(targets) == 0 {
			d.store.RetryAnnounce(id)
			onDone(0, NewDHTError("announce", ErrNoNearbyPeers, "no responder issued a token"))
			return
		}

		pending, acks := len(targets), 0
		settle := func() {
			pending--
			if pending > 0 {
				return
			}
			if acks == 0 {
				d.store.RetryAnnounce(id)
				onDone(0, NewDHTError("announce", ErrNoNearbyPeers, "no peer accepted the record"))
				return
			}
			onDone(acks, nil)
		}
		for _, p := range targets {
			p := p
			d.sendRequest(p.Addr, p.ID, &Message{
				Kind:   KindAnnounce,
				Target: id,
				Port:   rec.Port,
				TTL:    ttl,
				Token:  r.Tokens[p.ID],
			}, func(*Message, time.Duration) {
				acks++
				settle()
			}, func(err error) {
				logger.Debug("ANNOUNCE 失败", "peer", p.ID.ShortString(), "error", err)
				settle()
			})
		}
	})
}

// Bootstrap 通过已知地址加入网络
//
// 向每个地址发送 PING，第一个响应触发一次自查询。
func (d *DHT) Bootstrap(ctx context.Context, addrs []netip.AddrPort) error {
	if len(addrs) == 0 {
		return NewDHTError("bootstrap", ErrInvalidConfig, "no bootstrap address")
	}
	for _, a := range addrs {
		if !a.IsValid() || a.Port() == 0 {
			return NewDHTError("bootstrap", ErrInvalidConfig, "invalid address "+a.String())
		}
	}

	resCh := make(chan error, 1)
	if err := d.call(ctx, "bootstrap", func() {
		remaining := len(addrs)
		triggered := false
		for _, a := range addrs {
			addr := a
			d.sendRequest(addr, types.EmptyNodeID, &Message{Kind: KindPing},
				func(msg *Message, _ time.Duration) {
					remaining--
					if triggered {
						return
					}
					triggered = true
					logger.Debug("引导节点响应，开始自查询", "addr", addr, "peer", msg.Sender.ShortString())
					d.startLookup(d.self, lookupNode, func(LookupResult) { resCh <- nil })
				},
				func(err error) {
					remaining--
					if remaining == 0 && !triggered {
						resCh <- NewDHTError("bootstrap", ErrTimeout, "no bootstrap peer answered")
					}
				})
		}
	}); err != nil {
		return err
	}

	select {
	case err := <-resCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return NewDHTError("bootstrap", ErrClosed, "")
	}
}

// Ping 探测一个地址，返回对端 ID 和 RTT
func (d *DHT) Ping(ctx context.Context, addr netip.AddrPort) (types.NodeID, time.Duration, error) {
	if !addr.IsValid() || addr.Port() == 0 {
		return types.EmptyNodeID, 0, NewDHTError("ping", ErrInvalidConfig, "invalid address "+addr.String())
	}

	type pong struct {
		id  types.NodeID
		rtt time.Duration
		err error
	}
	resCh := make(chan pong, 1)
	if err := d.call(ctx, "ping", func() {
		d.sendRequest(addr, types.EmptyNodeID, &Message{Kind: KindPing},
			func(msg *Message, rtt time.Duration) { resCh <- pong{id: msg.Sender, rtt: rtt} },
			func(err error) { resCh <- pong{err: err} })
	}); err != nil {
		return types.EmptyNodeID, 0, err
	}

	select {
	case p := <-resCh:
		return p.id, p.rtt, p.err
	case <-ctx.Done():
		return types.EmptyNodeID, 0, ctx.Err()
	case <-d.done:
		return types.EmptyNodeID, 0, NewDHTError("ping", ErrClosed, "")
	}
}

// FindNode 查找距离 id 最近的节点
func (d *DHT) FindNode(ctx context.Context, id types.NodeID) ([]PeerInfo, error) {
	r, err := d.runLookup(ctx, "find_node", id, lookupNode, nil)
	if err != nil {
		return nil, err
	}
	return r.Closest, nil
}

// Contacts 返回路由表中的所有联系人
func (d *DHT) Contacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	err := d.call(ctx, "contacts", func() {
		out = d.table.Contacts()
	})
	return out, err
}

// Closest 返回路由表中距离 id 最近的 count 个联系人（不发起网络请求）
func (d *DHT) Closest(ctx context.Context, id types.NodeID, count int) ([]Contact, error) {
	var out []Contact
	err := d.call(ctx, "closest", func() {
		out = d.table.Closest(id, count)
	})
	return out, err
}

// LocalRecords 返回本地发布的记录
func (d *DHT) LocalRecords(ctx context.Context) ([]LocalRecord, error) {
	var out []LocalRecord
	err := d.call(ctx, "local_records", func() {
		out = d.store.Local()
	})
	return out, err
}

// Status DHT 运行状态
type Status struct {
	NodeID          types.NodeID
	LocalAddr       netip.AddrPort
	Uptime          time.Duration
	Contacts        int
	Buckets         int
	CachedKeys      int
	LocalRecords    int
	PendingRequests int
	ActiveLookups   int
}

// Status 返回运行状态
func (d *DHT) Status(ctx context.Context) (Status, error) {
	var st Status
	err := d.call(ctx, "status", func() {
		st = Status{
			NodeID:          d.self,
			LocalAddr:       d.localAddr,
			Uptime:          d.clock.Since(d.startedAt),
			Contacts:        d.table.Size(),
			CachedKeys:      d.store.KeyCount(),
			LocalRecords:    len(d.store.local),
			PendingRequests: len(d.txs),
			ActiveLookups:   len(d.lookups),
		}
		for i := range d.table.buckets {
			if n, _ := d.table.BucketLen(i); n > 0 {
				st.Buckets++
			}
		}
	})
	return st, err
}
