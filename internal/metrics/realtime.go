package metrics

// SetActiveConnections sets the open connection gauge
func (m *Metrics) SetActiveConnections(count int) {
	m.safeExecute("SetActiveConnections", func() {
		m.WSActiveConnections.Set(float64(count))
	})
}

func (m *Metrics) IncrementConnections() {
	m.safeExecute("IncrementConnections", func() {
		m.WSConnectionsTotal.Inc()
	})
}

func (m *Metrics) RecordHandshakeFailure(reason string) {
	m.safeExecute("RecordHandshakeFailure", func() {
		m.WSHandshakeFailures.WithLabelValues(reason).Inc()
	})
}

func (m *Metrics) RecordClientCommand(command string) {
	m.safeExecute("RecordClientCommand", func() {
		m.ClientCommandsTotal.WithLabelValues(command).Inc()
	})
}

func (m *Metrics) RecordPresenceStoreError(op string) {
	m.safeExecute("RecordPresenceStoreError", func() {
		m.PresenceStoreErrors.WithLabelValues(op).Inc()
	})
}

// RecordBridgeEvent counts a routed bridge event by target kind and outcome
func (m *Metrics) RecordBridgeEvent(target, outcome string) {
	m.safeExecute("RecordBridgeEvent", func() {
		m.BridgeEventsTotal.WithLabelValues(target, outcome).Inc()
	})
}

// RecordBridgeDropped counts bridge messages lost before routing
func (m *Metrics) RecordBridgeDropped(target string, count int) {
	m.safeExecute("RecordBridgeDropped", func() {
		m.BridgeEventsTotal.WithLabelValues(target, "dropped").Add(float64(count))
	})
}

// SetOfflineQueueSize sets both offline queue gauges
func (m *Metrics) SetOfflineQueueSize(users, entries int) {
	m.safeExecute("SetOfflineQueueSize", func() {
		m.OfflineQueueUsers.Set(float64(users))
		m.OfflineQueueEntries.Set(float64(entries))
	})
}

func (m *Metrics) RecordOfflineDropped(reason string, count int) {
	m.safeExecute("RecordOfflineDropped", func() {
		m.OfflineQueueDropped.WithLabelValues(reason).Add(float64(count))
	})
}

func (m *Metrics) RecordOfflineDelivered(count int) {
	m.safeExecute("RecordOfflineDelivered", func() {
		m.OfflineQueueDelivered.Add(float64(count))
	})
}
