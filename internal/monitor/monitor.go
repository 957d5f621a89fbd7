// Package monitor tracks the cognitive load of the agent and forwards each
// measurement to an external CogniCap collector.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/developer-mesh/docs-expert/internal/config"
	"github.com/developer-mesh/docs-expert/internal/metrics"
	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// Load index weights
const (
	weightContext = 0.25
	weightLatency = 0.25
	weightError   = 0.30
	weightDrift   = 0.20

	// latencyCeilingMs is the latency treated as full load
	latencyCeilingMs = 3000.0

	// DegradedThreshold is the load index at which the agent reports degraded
	DegradedThreshold = 0.7

	snapshotWindow  = 10
	defaultRingSize = 1000
)

// Status values
const (
	StatusOptimal  = "optimal"
	StatusDegraded = "degraded"
)

// Metric is a single cognitive measurement
type Metric struct {
	AgentID             string  `json:"agentId"`
	Timestamp           int64   `json:"timestamp"`
	ContextWindowUsage  float64 `json:"contextWindowUsage"`
	ProcessingLatency   float64 `json:"processingLatency"`
	ErrorRate           float64 `json:"errorRate"`
	SemanticConsistency float64 `json:"semanticConsistency"`
	CognitiveLoadIndex  float64 `json:"cognitiveLoadIndex"`
}

// Snapshot is the average over the most recent measurements
type Snapshot struct {
	CognitiveLoadIndex  float64 `json:"cognitiveLoadIndex"`
	AverageLatency      float64 `json:"averageLatency"`
	SemanticConsistency float64 `json:"semanticConsistency"`
	ErrorRate           float64 `json:"errorRate"`
}

// Monitor keeps a bounded ring of measurements
type Monitor struct {
	agentID    string
	url        string
	timeout    time.Duration
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     observability.Logger

	mu    sync.Mutex
	ring  []Metric
	next  int
	count int

	sendMu sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a monitor. Forwarding is disabled when cfg.Enabled is false or
// the URL is empty.
func New(agentID string, cfg config.MonitorConfig, m *metrics.Metrics, logger observability.Logger) *Monitor {
	size := cfg.RingSize
	if size <= 0 {
		size = defaultRingSize
	}
	url := ""
	if cfg.Enabled {
		url = strings.TrimRight(cfg.URL, "/")
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	return &Monitor{
		agentID:    agentID,
		url:        url,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		metrics:    m,
		logger:     logger.WithPrefix("monitor"),
		ring:       make([]Metric, size),
	}
}

// CognitiveLoad computes the weighted load index of a measurement
func CognitiveLoad(metric Metric) float64 {
	latencyLoad := metric.ProcessingLatency / latencyCeilingMs
	if latencyLoad > 1 {
		latencyLoad = 1
	}
	if latencyLoad < 0 {
		latencyLoad = 0
	}

	return metric.ContextWindowUsage*weightContext +
		latencyLoad*weightLatency +
		metric.ErrorRate*weightError +
		(1-metric.SemanticConsistency)*weightDrift
}

// Record computes the load index, stores the measurement and forwards it
// in the background. It never blocks on the collector.
func (m *Monitor) Record(metric Metric) Metric {
	if metric.AgentID == "" {
		metric.AgentID = m.agentID
	}
	if metric.Timestamp == 0 {
		metric.Timestamp = time.Now().UnixMilli()
	}
	metric.CognitiveLoadIndex = CognitiveLoad(metric)

	m.mu.Lock()
	m.ring[m.next] = metric
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	m.mu.Unlock()

	m.metrics.SetCognitiveMetrics(metric.CognitiveLoadIndex, metric.ProcessingLatency, metric.SemanticConsistency, metric.ErrorRate)
	m.forward(metric)
	return metric
}

func (m *Monitor) forward(metric Metric) {
	if m.url == "" {
		return
	}

	m.sendMu.Lock()
	if m.closed {
		m.sendMu.Unlock()
		return
	}
	m.wg.Add(1)
	m.sendMu.Unlock()

	go func() {
		defer m.wg.Done()
		if err := m.post(metric); err != nil {
			m.logger.Debug("CogniCap collector unavailable, keeping metric locally", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
}

func (m *Monitor) post(metric Metric) error {
	ctx := context.Background()
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	body, err := json.Marshal(map[string]interface{}{"metric": metric})
	if err != nil {
		return fmt.Errorf("failed to marshal metric: %w", err)
	}

	url := fmt.Sprintf("%s/api/measure/%s", m.url, metric.AgentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send metric: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// Len returns the number of stored measurements
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Snapshot averages the last ten measurements
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.count
	if n > snapshotWindow {
		n = snapshotWindow
	}
	if n == 0 {
		return Snapshot{SemanticConsistency: 1}
	}

	var s Snapshot
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		metric := m.ring[idx]
		s.CognitiveLoadIndex += metric.CognitiveLoadIndex
		s.AverageLatency += metric.ProcessingLatency
		s.SemanticConsistency += metric.SemanticConsistency
		s.ErrorRate += metric.ErrorRate
	}

	count := float64(n)
	s.CognitiveLoadIndex /= count
	s.AverageLatency /= count
	s.SemanticConsistency /= count
	s.ErrorRate /= count
	return s
}

// Status returns optimal or degraded for the current snapshot
func (m *Monitor) Status() string {
	return statusOf(m.Snapshot())
}

func statusOf(s Snapshot) string {
	if s.CognitiveLoadIndex < DegradedThreshold {
		return StatusOptimal
	}
	return StatusDegraded
}

// Report renders a human readable cognitive load report
func (m *Monitor) Report() string {
	s := m.Snapshot()

	var b strings.Builder
	header := "Cognitive Load Report for " + m.agentID
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("=", len(header)) + "\n\n")
	fmt.Fprintf(&b, "Overall Cognitive Load Index: %.1f%%\n", s.CognitiveLoadIndex*100)
	fmt.Fprintf(&b, "Average Processing Latency: %.0fms\n", s.AverageLatency)
	fmt.Fprintf(&b, "Semantic Consistency: %.1f%%\n", s.SemanticConsistency*100)
	fmt.Fprintf(&b, "Error Rate: %.2f%%\n\n", s.ErrorRate*100)

	if statusOf(s) == StatusOptimal {
		b.WriteString("Status: Optimal")
	} else {
		b.WriteString("Status: Degraded\n\n")
		b.WriteString("Recommendation: Consider knowledge base optimization or context window reduction")
	}
	return b.String()
}

// Close stops forwarding and waits for in-flight posts
func (m *Monitor) Close() error {
	m.sendMu.Lock()
	m.closed = true
	m.sendMu.Unlock()

	m.wg.Wait()
	return nil
}
