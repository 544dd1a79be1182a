package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthConfig configures health checks
type HealthConfig struct {
	Timeout            time.Duration `json:"timeout" mapstructure:"timeout"`
	EnableDetailedLogs bool          `json:"enable_detailed_logs" mapstructure:"enable_detailed_logs"`
}

// HealthCheck is one named dependency probe
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Critical bool
}

// HealthResult is the outcome of one check
type HealthResult struct {
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SystemStatus aggregates the results of all checks. Any failing critical
// check makes the system unhealthy; any other failure degrades it.
type SystemStatus struct {
	Status    HealthStatus            `json:"status"`
	Checks    map[string]HealthResult `json:"checks,omitempty"`
	Failed    []string                `json:"failed,omitempty"`
	Uptime    time.Duration           `json:"uptime"`
	CheckedAt time.Time               `json:"checked_at"`
}

// HealthMonitor runs registered checks on demand
type HealthMonitor struct {
	logger    *logrus.Logger
	config    *HealthConfig
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(config *HealthConfig, logger *logrus.Logger) *HealthMonitor {
	if config == nil {
		config = getDefaultHealthConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &HealthMonitor{
		logger:    logger,
		config:    config,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
	}
}

// RegisterCheck adds or replaces a check
func (hm *HealthMonitor) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[check.Name] = check
}

// Check runs every registered check concurrently, each under the configured
// timeout
func (hm *HealthMonitor) Check(ctx context.Context) *SystemStatus {
	hm.mu.RLock()
	checks := make([]HealthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		checks = append(checks, c)
	}
	hm.mu.RUnlock()

	results := make([]HealthResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c HealthCheck) {
			defer wg.Done()
			results[i] = hm.executeCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	status := &SystemStatus{
		Status:    StatusHealthy,
		Checks:    make(map[string]HealthResult, len(checks)),
		Uptime:    time.Since(hm.startTime),
		CheckedAt: time.Now(),
	}
	for i, c := range checks {
		status.Checks[c.Name] = results[i]
		if results[i].Status == StatusHealthy {
			continue
		}
		status.Failed = append(status.Failed, c.Name)
		if c.Critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	sort.Strings(status.Failed)

	return status
}

func (hm *HealthMonitor) executeCheck(ctx context.Context, check HealthCheck) HealthResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, hm.config.Timeout)
	defer cancel()

	result := HealthResult{Status: StatusHealthy}
	if err := check.Check(checkCtx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	result.Duration = time.Since(start)

	if hm.config.EnableDetailedLogs || result.Status != StatusHealthy {
		hm.logger.WithFields(logrus.Fields{
			"check":    check.Name,
			"status":   result.Status,
			"duration": result.Duration,
			"message":  result.Message,
		}).Debug("Health check completed")
	}

	return result
}

func getDefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		Timeout: 5 * time.Second,
	}
}
