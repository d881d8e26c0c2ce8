package main

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromExporter collects metrics in Prometheus format from a relay server.
type PromExporter struct {
	address   string
	timeout   time.Duration
	namespace string

	scraper *Scraper

	up                *prometheus.Desc
	version           *prometheus.Desc
	sessionsLive      *prometheus.Desc
	sessionsTotal     *prometheus.Desc
	messagesIn        *prometheus.Desc
	messagesOut       *prometheus.Desc
	messagesRouted    *prometheus.Desc
	messagesRejected  *prometheus.Desc
	messagesMalformed *prometheus.Desc
	friendshipsTotal  *prometheus.Desc
	malloced          *prometheus.Desc
}

// NewPromExporter returns an initialized Prometheus exporter.
func NewPromExporter(server, namespace string, timeout time.Duration, scraper *Scraper) *PromExporter {
	return &PromExporter{
		address:   server,
		timeout:   timeout,
		namespace: namespace,
		scraper:   scraper,
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "up"),
			"If the relay instance is reachable.",
			nil,
			nil,
		),
		version: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "version"),
			"The version of this relay instance.",
			nil,
			nil,
		),
		sessionsLive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_live_count"),
			"Number of currently connected sessions.",
			nil,
			nil,
		),
		sessionsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sessions_total"),
			"Total number of sessions since instance start.",
			nil,
			nil,
		),
		messagesIn: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_incoming_total"),
			"Total number of frames received from clients.",
			nil,
			nil,
		),
		messagesOut: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_outgoing_total"),
			"Total number of frames sent to clients.",
			nil,
			nil,
		),
		messagesRouted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_routed_total"),
			"Total number of frames forwarded to their addressee.",
			nil,
			nil,
		),
		messagesRejected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_rejected_total"),
			"Total number of frames rejected: unauthorized or addressee offline.",
			nil,
			nil,
		),
		messagesMalformed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_malformed_total"),
			"Total number of undecodable frames.",
			nil,
			nil,
		),
		friendshipsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "friendships_total"),
			"Total number of friendship edges established.",
			nil,
			nil,
		),
		malloced: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "malloced_bytes"),
			"Number of bytes of memory allocated and in use.",
			nil,
			nil,
		),
	}
}

// Describe describes all the metrics exported by the relay exporter. It
// implements prometheus.Collector.
func (e *PromExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up
	ch <- e.version
	ch <- e.sessionsLive
	ch <- e.sessionsTotal
	ch <- e.messagesIn
	ch <- e.messagesOut
	ch <- e.messagesRouted
	ch <- e.messagesRejected
	ch <- e.messagesMalformed
	ch <- e.friendshipsTotal
	ch <- e.malloced
}

// Collect fetches statistics from the configured relay instance, and
// delivers them as Prometheus metrics. It implements prometheus.Collector.
func (e *PromExporter) Collect(ch chan<- prometheus.Metric) {
	up := float64(1)
	if stats, err := e.scraper.Scrape(); err != nil {
		log.Println("Failed to fetch or parse response", err)
		up = 0
	} else {
		if err := e.parseStats(ch, stats); err != nil {
			up = 0
		}
	}

	ch <- prometheus.MustNewConstMetric(e.up, prometheus.GaugeValue, up)
}

func (e *PromExporter) parseStats(ch chan<- prometheus.Metric, stats map[string]any) error {
	err := firstError(
		e.parseAndUpdate(ch, e.version, prometheus.GaugeValue, stats, "Version"),
		e.parseAndUpdate(ch, e.sessionsLive, prometheus.GaugeValue, stats, "LiveSessions"),
		e.parseAndUpdate(ch, e.sessionsTotal, prometheus.CounterValue, stats, "TotalSessions"),
		e.parseAndUpdate(ch, e.messagesIn, prometheus.CounterValue, stats, "IncomingMessagesWebsockTotal"),
		e.parseAndUpdate(ch, e.messagesOut, prometheus.CounterValue, stats, "OutgoingMessagesWebsockTotal"),
		e.parseAndUpdate(ch, e.messagesRouted, prometheus.CounterValue, stats, "RoutedMessagesTotal"),
		e.parseAndUpdate(ch, e.messagesRejected, prometheus.CounterValue, stats, "RejectedMessagesTotal"),
		e.parseAndUpdate(ch, e.messagesMalformed, prometheus.CounterValue, stats, "MalformedMessagesTotal"),
		e.parseAndUpdate(ch, e.friendshipsTotal, prometheus.CounterValue, stats, "FriendshipsTotal"),
		e.parseAndUpdate(ch, e.malloced, prometheus.GaugeValue, stats, "memstats.Alloc"),
	)

	return err
}

func (e *PromExporter) parseAndUpdate(ch chan<- prometheus.Metric, desc *prometheus.Desc, valueType prometheus.ValueType,
	stats map[string]any, key string) error {
	v, err := parseMetric(stats, key)
	if err != nil {
		return err
	}
	ch <- prometheus.MustNewConstMetric(desc, valueType, v)
	return nil
}

func firstError(errs ...error) error {
	for _, v := range errs {
		if v != nil {
			return v
		}
	}
	return nil
}
