package monitor

import (
	"slices"
	"sort"
	"sync"
	"time"

	"stripekit/client"
	"stripekit/stripeerr"
)

const maxResponseTimes = 1000

// Metrics 进程内的调用统计，实现 client.Observer
type Metrics struct {
	mu sync.RWMutex

	// Call metrics
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	TotalAttempts   int64
	RetriedCalls    int64
	// 失败调用中瞬时错误（网络、409/429/5xx）的数量，其余为终止性错误
	TransientFailures int64

	// Response time metrics
	ResponseTimes     []time.Duration
	TotalResponseTime time.Duration
	MinResponseTime   time.Duration
	MaxResponseTime   time.Duration

	// Per-path metrics
	PathStats map[string]*PathMetrics

	// Failures by error kind
	ErrorsByKind map[string]int64

	LastCall  time.Time
	StartTime time.Time
}

// PathMetrics tracks metrics for a single "METHOD path"
type PathMetrics struct {
	Name              string
	TotalCalls        int64
	SuccessfulCalls   int64
	FailedCalls       int64
	RetryCount        int64
	TotalResponseTime time.Duration
	MinResponseTime   time.Duration
	MaxResponseTime   time.Duration
	LastStatus        int
	LastUsed          time.Time
}

// Snapshot is a copy of Metrics safe to read without locking
type Snapshot struct {
	TotalCalls      int64
	SuccessfulCalls int64
	FailedCalls     int64
	TotalAttempts   int64
	RetriedCalls    int64
	// TransientFailures 失败时最后一个错误仍属瞬时错误，即重试次数耗尽
	TransientFailures int64
	TerminalFailures  int64
	SuccessRate       float64
	AvgResponseTime   time.Duration
	MinResponseTime   time.Duration
	MaxResponseTime   time.Duration
	P95ResponseTime   time.Duration
	Paths             []PathMetrics
	ErrorsByKind      map[string]int64
	LastCall          time.Time
	Uptime            time.Duration
}

var _ client.Observer = (*Metrics)(nil)

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		PathStats:    make(map[string]*PathMetrics),
		ErrorsByKind: make(map[string]int64),
		StartTime:    time.Now(),
	}
}

// OnAttempt 每次尝试只影响总尝试数
func (m *Metrics) OnAttempt(info client.AttemptInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalAttempts++
}

// OnComplete records a finished call
func (m *Metrics) OnComplete(info client.CallInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	responseTime := info.Duration
	name := info.Method + " " + info.Path

	m.TotalCalls++
	m.LastCall = info.Start.Add(responseTime)
	if info.Attempts > 1 {
		m.RetriedCalls++
	}

	m.TotalResponseTime += responseTime
	m.ResponseTimes = append(m.ResponseTimes, responseTime)
	if len(m.ResponseTimes) > maxResponseTimes {
		m.ResponseTimes = m.ResponseTimes[len(m.ResponseTimes)-maxResponseTimes:]
	}
	if m.MinResponseTime == 0 || responseTime < m.MinResponseTime {
		m.MinResponseTime = responseTime
	}
	if responseTime > m.MaxResponseTime {
		m.MaxResponseTime = responseTime
	}

	ps := m.PathStats[name]
	if ps == nil {
		ps = &PathMetrics{Name: name}
		m.PathStats[name] = ps
	}
	ps.TotalCalls++
	ps.TotalResponseTime += responseTime
	ps.LastStatus = info.Status
	ps.LastUsed = m.LastCall
	if info.Attempts > 1 {
		ps.RetryCount += int64(info.Attempts - 1)
	}
	if ps.MinResponseTime == 0 || responseTime < ps.MinResponseTime {
		ps.MinResponseTime = responseTime
	}
	if responseTime > ps.MaxResponseTime {
		ps.MaxResponseTime = responseTime
	}

	if info.Succeeded() {
		m.SuccessfulCalls++
		ps.SuccessfulCalls++
	} else {
		m.FailedCalls++
		ps.FailedCalls++
		m.ErrorsByKind[info.ErrorKind().String()]++
		if stripeerr.Retryable(info.Err) {
			m.TransientFailures++
		}
	}
}

// GetSuccessRate returns the success rate as a percentage
func (m *Metrics) GetSuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.successRateUnlocked()
}

func (m *Metrics) successRateUnlocked() float64 {
	if m.TotalCalls == 0 {
		return 0
	}
	return float64(m.SuccessfulCalls) / float64(m.TotalCalls) * 100
}

// GetAverageResponseTime returns the average response time
func (m *Metrics) GetAverageResponseTime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.averageResponseTimeUnlocked()
}

func (m *Metrics) averageResponseTimeUnlocked() time.Duration {
	if m.TotalCalls == 0 {
		return 0
	}
	return m.TotalResponseTime / time.Duration(m.TotalCalls)
}

// GetP95ResponseTime returns the 95th percentile over the retained window
func (m *Metrics) GetP95ResponseTime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.p95Unlocked()
}

func (m *Metrics) p95Unlocked() time.Duration {
	if len(m.ResponseTimes) == 0 {
		return 0
	}
	sorted := slices.Clone(m.ResponseTimes)
	slices.Sort(sorted)
	index := int(float64(len(sorted)) * 0.95)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// Snapshot returns a consistent copy, paths sorted by call count
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		TotalCalls:        m.TotalCalls,
		SuccessfulCalls:   m.SuccessfulCalls,
		FailedCalls:       m.FailedCalls,
		TotalAttempts:     m.TotalAttempts,
		RetriedCalls:      m.RetriedCalls,
		TransientFailures: m.TransientFailures,
		TerminalFailures:  m.FailedCalls - m.TransientFailures,
		SuccessRate:       m.successRateUnlocked(),
		AvgResponseTime:   m.averageResponseTimeUnlocked(),
		MinResponseTime:   m.MinResponseTime,
		MaxResponseTime:   m.MaxResponseTime,
		P95ResponseTime:   m.p95Unlocked(),
		ErrorsByKind:      make(map[string]int64, len(m.ErrorsByKind)),
		LastCall:          m.LastCall,
		Uptime:            time.Since(m.StartTime),
	}
	for k, v := range m.ErrorsByKind {
		s.ErrorsByKind[k] = v
	}
	for _, ps := range m.PathStats {
		s.Paths = append(s.Paths, *ps)
	}
	sort.Slice(s.Paths, func(i, j int) bool {
		if s.Paths[i].TotalCalls != s.Paths[j].TotalCalls {
			return s.Paths[i].TotalCalls > s.Paths[j].TotalCalls
		}
		return s.Paths[i].Name < s.Paths[j].Name
	})
	return s
}
