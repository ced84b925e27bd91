// Package metrics 收集 DHT 运行指标
//
// Collector 实现 dht.Metrics，把报文、超时与查询统计记录到
// Prometheus 指标中，同时维护最近 60 秒的报文速率供控制台展示。
//
// 导出的指标（前缀 kadnode_）：
//
//	dht_messages_received_total{kind}
//	dht_messages_sent_total{kind}
//	dht_messages_dropped_total{reason}
//	dht_request_timeouts_total{kind}
//	dht_lookups_total{kind,result}
//	dht_lookup_duration_seconds{kind}
//	dht_lookup_rounds{kind}
//	dht_contacts / dht_buckets / dht_cached_keys / dht_local_records
//
// 启用后 Server 在配置的地址上以 /metrics 提供 Prometheus 文本格式。
package metrics
