package service

import "context"

// MonitoringProvider supplies figures that come from outside the event store.
type MonitoringProvider interface {
	SystemUptime(ctx context.Context) (float64, error)
	AverageResponseTime(ctx context.Context) (float64, error)
}

// StaticMonitoring reports fixed, configured values.
type StaticMonitoring struct {
	Uptime       float64
	ResponseTime float64
}

func (m StaticMonitoring) SystemUptime(context.Context) (float64, error) {
	return m.Uptime, nil
}

func (m StaticMonitoring) AverageResponseTime(context.Context) (float64, error) {
	return m.ResponseTime, nil
}
