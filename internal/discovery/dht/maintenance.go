package dht

import (
	"time"
)

// ============================================================================
//                              维护任务
// ============================================================================

// periodicTask 到期队列中周期执行的任务
type periodicTask struct {
	name     string
	interval time.Duration
	run      func(now time.Time)
	entry    *timerEntry
}

// every 注册周期任务，每次执行后重新排期
func (d *DHT) every(name string, interval time.Duration, run func(now time.Time)) {
	t := &periodicTask{name: name, interval: interval, run: run}
	d.tasks = append(d.tasks, t)
	d.arm(t)
}

func (d *DHT) arm(t *periodicTask) {
	t.entry = d.timers.Schedule(d.clock.Now().Add(t.interval), func() {
		now := d.clock.Now()
		t.run(now)
		if !d.stopping {
			d.arm(t)
		}
	})
}

// startMaintenance 注册所有维护任务
func (d *DHT) startMaintenance() {
	d.every("refresh", d.cfg.RefreshCheckInterval, d.refreshBuckets)
	d.every("liveness", d.cfg.LivenessInterval, d.livenessSweep)
	d.every("reannounce", d.cfg.AnnounceCheckInterval, d.reannounceDue)
	d.every("expire", d.cfg.ExpireInterval, d.expire)
	d.every("token", d.cfg.TokenRotation, func(time.Time) { d.tokens.Rotate() })
}

// stopMaintenance 取消所有维护任务
func (d *DHT) stopMaintenance() {
	for _, t := range d.tasks {
		t.entry.Cancel()
	}
	d.tasks = nil
}

// refreshBuckets 对陈旧的桶查询一个落在其范围内的随机 ID
func (d *DHT) refreshBuckets(time.Time) {
	stale := d.table.StaleBuckets(d.cfg.BucketStaleAfter)
	if len(stale) == 0 {
		return
	}
	logger.Debug("刷新陈旧 K 桶", "count", len(stale))
	for _, i := range stale {
		d.table.Touch(i)
		d.startLookup(RandomIDInBucket(d.self, i), lookupNode, nil)
	}
}

// livenessSweep 探测每个非空桶中最久未见的联系人
//
// 超时由事务层计入失败次数，达到阈值后驱逐。
func (d *DHT) livenessSweep(time.Time) {
	for i := 0; i < len(d.table.buckets); i++ {
		c, ok := d.table.LeastRecentlySeen(i)
		if !ok {
			continue
		}
		d.sendRequest(c.Addr, c.ID, &Message{Kind: KindPing}, nil, nil)
	}
}

// reannounceDue 重新发布到期的本地记录
func (d *DHT) reannounceDue(now time.Time) {
	for _, rec := range d.store.DueForAnnounce(now) {
		id := rec.ID
		d.startAnnounce(id, func(acks int, err error) {
			if err != nil {
				logger.Debug("重新发布失败", "id", id.ShortString(), "error", err)
				return
			}
			logger.Debug("重新发布完成", "id", id.ShortString(), "acks", acks)
		})
	}
}

// expire 清理过期记录和滞留的事务
func (d *DHT) expire(now time.Time) {
	cached, local := d.store.Expire(now)
	stale := d.expireTransactions(now)
	if cached+local+stale > 0 {
		logger.Debug("过期清理", "cached", cached, "local", local, "transactions", stale)
	}
}
