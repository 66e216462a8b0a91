package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const Namespace = "pettai_agent"

var _ opmetrics.RegistryMetricer = (*Metrics)(nil)

type Metricer interface {
	RecordInfo(version string)
	RecordUp()

	RecordAction(name string)
	RecordCheckpoint()
	RecordNonce(nonce uint64)
	RecordBroadcast(outcome string)

	StartBalanceMetrics(l log.Logger, client *ethclient.Client, account common.Address) io.Closer

	Document() []opmetrics.DocumentedMetric
}

type Metrics struct {
	ns       string
	registry *prometheus.Registry
	factory  opmetrics.Factory

	info        prometheus.GaugeVec
	up          prometheus.Gauge
	actions     prometheus.CounterVec
	checkpoints prometheus.Counter
	nonce       prometheus.Gauge
	broadcasts  prometheus.CounterVec
}

var _ Metricer = (*Metrics)(nil)

func NewMetrics(procName string) *Metrics {
	if procName == "" {
		procName = "default"
	}
	ns := Namespace + "_" + procName

	registry := opmetrics.NewRegistry()
	factory := opmetrics.With(registry)

	return &Metrics{
		ns:       ns,
		registry: registry,
		factory:  factory,

		info: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "info",
			Help:      "Information about the agent",
		}, []string{
			"version",
		}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "up",
			Help:      "1 if the agent has finished starting up",
		}),
		actions: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "actions_recorded",
			Help:      "Actions recorded on-chain",
		}, []string{
			"action",
		}),
		checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "checkpoints_submitted",
			Help:      "Staking checkpoint transactions submitted",
		}),
		nonce: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "nonce",
			Help:      "Last account nonce used for a broadcast",
		}),
		broadcasts: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "broadcasts",
			Help:      "Transaction broadcast attempts by outcome",
		}, []string{
			"outcome",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) StartBalanceMetrics(l log.Logger, client *ethclient.Client, account common.Address) io.Closer {
	return opmetrics.LaunchBalanceMetrics(l, m.registry, m.ns, client, account)
}

func (m *Metrics) RecordInfo(version string) {
	m.info.WithLabelValues(version).Set(1)
}

func (m *Metrics) RecordUp() {
	m.up.Set(1)
}

func (m *Metrics) RecordAction(name string) {
	m.actions.WithLabelValues(name).Inc()
}

func (m *Metrics) RecordCheckpoint() {
	m.checkpoints.Inc()
}

func (m *Metrics) RecordNonce(nonce uint64) {
	m.nonce.Set(float64(nonce))
}

func (m *Metrics) RecordBroadcast(outcome string) {
	m.broadcasts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Document() []opmetrics.DocumentedMetric {
	return m.factory.Document()
}
