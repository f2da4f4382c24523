package session

import "github.com/prometheus/client_golang/prometheus"

func CoalescedCounter(m *Metrics) prometheus.Collector {
	return m.coalescedReqs
}

func AuthenticatedGauge(m *Metrics) prometheus.Collector {
	return m.authenticated
}
