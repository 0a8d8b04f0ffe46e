package hotsync

import "github.com/prometheus/client_golang/prometheus"

const metricNamespace = "hotsync"

// RegisterMetrics exposes m on reg, labelled with the server name.
func RegisterMetrics(reg prometheus.Registerer, server string, m *ServerMetrics) error {
	labels := prometheus.Labels{"server": server}

	counter := func(name, help string, f func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricNamespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(f()) })
	}

	collectors := []prometheus.Collector{
		counter("sessions_total", "Sessions accepted.", m.SessionCount.Load),
		counter("sessions_succeeded_total", "Sessions that synced without error.", m.SessionSuccessCount.Load),
		counter("sessions_failed_total", "Sessions that ended with an error.", m.SessionErrCount.Load),
		counter("handshake_failures_total", "Failed link handshakes.", m.HandshakeErrCount.Load),
		counter("usb_init_failures_total", "Failed USB device initializations.", m.USBInitErrCount.Load),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricNamespace,
			Name:        "active_sessions",
			Help:        "Sessions in progress.",
			ConstLabels: labels,
		}, func() float64 { return float64(m.ActiveSessions.Load()) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}
