package server

import (
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/finguard/finguard/internal/database"
	"github.com/finguard/finguard/internal/di"
	"github.com/finguard/finguard/internal/domain"
	"github.com/finguard/finguard/internal/scheduler"
	"github.com/finguard/finguard/internal/server/respond"
)

// SystemHandlers handles system monitoring and job trigger endpoints
type SystemHandlers struct {
	log       zerolog.Logger
	container *di.Container
	jobs      map[string]scheduler.Job
}

// NewSystemHandlers creates a new system handlers instance. Nil jobs are not exposed.
func NewSystemHandlers(container *di.Container, jobs *di.JobInstances, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		container: container,
		jobs:      make(map[string]scheduler.Job),
	}
	if jobs != nil {
		if jobs.DriftMonitor != nil {
			h.register(jobs.DriftMonitor)
		}
		if jobs.LedgerVerify != nil {
			h.register(jobs.LedgerVerify)
		}
		if jobs.LedgerArchive != nil {
			h.register(jobs.LedgerArchive)
		}
		if jobs.CheckDatabases != nil {
			h.register(jobs.CheckDatabases)
		}
	}
	return h
}

func (h *SystemHandlers) register(job scheduler.Job) {
	h.jobs[job.Name()] = job
}

// SystemStatsResponse is the body of GET /api/system/stats
type SystemStatsResponse struct {
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	MemoryUsedMB  float64           `json:"memory_used_mb"`
	Goroutines    int               `json:"goroutines"`
	HeapAllocMB   float64           `json:"heap_alloc_mb"`
	Databases     []*database.Stats `json:"databases"`
}

// HandleSystemStats handles GET /api/system/stats
func (h *SystemHandlers) HandleSystemStats(w http.ResponseWriter, r *http.Request) {
	response := SystemStatsResponse{
		Goroutines: runtime.NumGoroutine(),
		Databases:  make([]*database.Stats, 0, 3),
	}

	// 100ms sample keeps the call responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		response.MemoryPercent = memStat.UsedPercent
		response.MemoryUsedMB = float64(memStat.Used) / 1024 / 1024
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	response.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024

	for _, db := range []*database.DB{h.container.PortfolioDB, h.container.LedgerDB, h.container.HistoryDB} {
		if db == nil {
			continue
		}
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}
		response.Databases = append(response.Databases, stats)
	}

	respond.Data(w, h.log, http.StatusOK, response)
}

// HandleListJobs handles GET /api/jobs
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.jobs))
	for name := range h.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	respond.Data(w, h.log, http.StatusOK, map[string]interface{}{"jobs": names})
}

// JobRunResponse reports a manually triggered job
type JobRunResponse struct {
	Job      string `json:"job"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// HandleTriggerJob handles POST /api/jobs/{name}. The job runs synchronously.
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		respond.Error(w, h.log, domain.NewError(domain.KindNotFound, "trigger job", "unknown job %q", name))
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job triggered")

	start := time.Now()
	err := job.Run()
	response := JobRunResponse{
		Job:      name,
		Status:   "success",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job failed")
		response.Status = "failed"
		response.Error = err.Error()
	}

	respond.Data(w, h.log, http.StatusOK, response)
}
