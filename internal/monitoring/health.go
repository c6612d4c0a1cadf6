package monitoring

import (
	"context"
	"sync"
	"time"
)

type HealthChecker interface {
	CheckHealth(ctx context.Context) *HealthStatus
	RegisterCheck(checker ComponentChecker)
}

type ComponentChecker interface {
	Check(ctx context.Context) error
	Name() string
	Timeout() time.Duration
}

type HealthStatus struct {
	Status     string                      `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime"`
	Version    string                      `json:"version"`
	Components map[string]*ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status      string        `json:"status"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

type healthChecker struct {
	checkers  []ComponentChecker
	startTime time.Time
	version   string
	mutex     sync.RWMutex
}

func NewHealthChecker(version string) HealthChecker {
	return &healthChecker{
		startTime: time.Now(),
		version:   version,
	}
}

func (h *healthChecker) RegisterCheck(checker ComponentChecker) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checkers = append(h.checkers, checker)
}

func (h *healthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mutex.RLock()
	checkers := append([]ComponentChecker(nil), h.checkers...)
	h.mutex.RUnlock()

	components := make(map[string]*ComponentHealth, len(checkers))
	unhealthy := 0
	for _, checker := range checkers {
		health := checkComponent(ctx, checker)
		components[checker.Name()] = health
		if health.Status != "healthy" {
			unhealthy++
		}
	}

	status := "healthy"
	switch {
	case unhealthy == 0:
	case unhealthy == len(checkers):
		status = "unhealthy"
	default:
		status = "degraded"
	}

	return &HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Version:    h.version,
		Components: components,
	}
}

func checkComponent(ctx context.Context, checker ComponentChecker) *ComponentHealth {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	err := checker.Check(checkCtx)
	health := &ComponentHealth{
		Status:      "healthy",
		LastChecked: time.Now(),
		Duration:    time.Since(start),
	}
	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
	}
	return health
}

// PingChecker adapts any Ping func (mongo, redis, rabbitmq) to a ComponentChecker
type PingChecker struct {
	name    string
	timeout time.Duration
	ping    func(ctx context.Context) error
}

func NewPingChecker(name string, timeout time.Duration, ping func(ctx context.Context) error) ComponentChecker {
	return &PingChecker{
		name:    name,
		timeout: timeout,
		ping:    ping,
	}
}

func (p *PingChecker) Name() string {
	return p.name
}

func (p *PingChecker) Timeout() time.Duration {
	return p.timeout
}

func (p *PingChecker) Check(ctx context.Context) error {
	return p.ping(ctx)
}
