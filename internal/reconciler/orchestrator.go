package reconciler

import (
	"context"
	"sync"
	"time"

	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// Orchestrator drives the month-end sequence over a service: ingest the
// three inputs, create a match run, optionally auto-resolve confident
// suggestions and post the journal, then evaluate the close checklist.
// Each step is its own committed operation; a failing step stops the
// sequence and leaves the earlier steps in place.
//
// Example usage:
//
//	orchestrator, _ := reconciler.NewOrchestrator(service)
//	orchestrator.AddProgressCallback(func(p *reconciler.Progress) {
//		fmt.Printf("%.0f%% %s\n", p.PercentComplete, p.CurrentStep)
//	})
//	result, err := orchestrator.Reconcile(ctx, reconciler.CycleRequest{Ingest: paths, AutoResolve: true})
type Orchestrator struct {
	service *Service
	logger  logger.Logger

	progressCallbacks []ProgressCallback
	progress          *Progress
	progressMutex     sync.RWMutex
}

// Progress describes how far a cycle has come
type Progress struct {
	TotalSteps         int           `json:"total_steps"`
	CompletedSteps     int           `json:"completed_steps"`
	CurrentStep        string        `json:"current_step"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
}

// ProgressCallback is called after every step of a cycle
type ProgressCallback func(*Progress)

// CycleRequest selects the steps of one reconciliation cycle
type CycleRequest struct {
	Ingest      IngestRequest `json:"ingest"`
	AutoResolve bool          `json:"auto_resolve"`
	ResolveMax  int           `json:"resolve_limit"`
	PostJournal bool          `json:"post_journal"`
	Actor       string        `json:"actor"`
}

// CycleResult collects the outcome of every step that ran
type CycleResult struct {
	Ingest      *IngestResult         `json:"ingest"`
	Run         *RunResult            `json:"run"`
	AutoResolve *BackgroundResult     `json:"auto_resolve,omitempty"`
	Journal     *reporter.Journal     `json:"journal,omitempty"`
	Close       *reporter.CloseStatus `json:"close_status"`
	Duration    time.Duration         `json:"duration"`
}

// NewOrchestrator creates an orchestrator over service
func NewOrchestrator(service *Service) (*Orchestrator, error) {
	if service == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciliation_service", nil, nil).
			WithSuggestion("Provide a valid reconciliation service")
	}
	return &Orchestrator{
		service:  service,
		logger:   logger.GetGlobalLogger().WithComponent("orchestrator"),
		progress: &Progress{},
	}, nil
}

// AddProgressCallback registers a progress callback
func (o *Orchestrator) AddProgressCallback(callback ProgressCallback) {
	o.progressCallbacks = append(o.progressCallbacks, callback)
}

// Reconcile runs one cycle
func (o *Orchestrator) Reconcile(ctx context.Context, req CycleRequest) (*CycleResult, error) {
	if req.Ingest.Actor == "" {
		req.Ingest.Actor = req.Actor
	}
	steps := 3
	if req.AutoResolve {
		steps++
	}
	if req.PostJournal {
		steps++
	}
	o.initializeProgress(steps)
	start := time.Now()
	result := &CycleResult{}
	done := 0

	o.logger.WithFields(logger.Fields{
		"statements":   req.Ingest.Statements,
		"auto_resolve": req.AutoResolve,
		"post_journal": req.PostJournal,
	}).Info("Starting reconciliation cycle")

	o.updateProgress("Ingesting inputs", done)
	ingest, err := o.service.Ingest(ctx, req.Ingest)
	if err != nil {
		return nil, err
	}
	result.Ingest = ingest
	done++

	o.updateProgress("Matching statement lines", done)
	run, err := o.service.CreateRun(ctx, RunRequest{Actor: req.Actor})
	if err != nil {
		return nil, err
	}
	result.Run = run
	done++

	if req.AutoResolve {
		o.updateProgress("Resolving confident suggestions", done)
		resolved, err := o.service.BackgroundResolve(ctx, BackgroundResolveRequest{Limit: req.ResolveMax, Actor: req.Actor})
		if err != nil {
			return nil, err
		}
		result.AutoResolve = resolved
		done++
	}

	if req.PostJournal {
		o.updateProgress("Posting journal", done)
		journal, err := o.service.PostJournal(ctx, JournalRequest{RunID: run.Run.RunID, Actor: req.Actor})
		if err != nil {
			return nil, err
		}
		result.Journal = journal
		done++
	}

	o.updateProgress("Evaluating close status", done)
	status, err := o.service.CloseStatus(ctx)
	if err != nil {
		return nil, err
	}
	result.Close = status
	done++

	result.Duration = time.Since(start)
	o.updateProgress("Completed", done)
	o.logger.WithFields(logger.Fields{
		"run_id":   run.Run.RunID,
		"ready":    status.Ready,
		"duration": result.Duration,
	}).Info("Reconciliation cycle completed")
	return result, nil
}

// Progress returns a copy of the current progress
func (o *Orchestrator) Progress() Progress {
	o.progressMutex.RLock()
	defer o.progressMutex.RUnlock()
	return *o.progress
}

func (o *Orchestrator) initializeProgress(steps int) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()
	o.progress = &Progress{TotalSteps: steps, StartTime: time.Now()}
}

func (o *Orchestrator) updateProgress(step string, completed int) {
	o.progressMutex.Lock()
	p := o.progress
	p.CurrentStep = step
	p.CompletedSteps = completed
	p.ElapsedTime = time.Since(p.StartTime)
	p.PercentComplete = float64(completed) / float64(p.TotalSteps) * 100
	p.EstimatedRemaining = 0
	if completed > 0 && completed < p.TotalSteps {
		perStep := p.ElapsedTime / time.Duration(completed)
		p.EstimatedRemaining = perStep * time.Duration(p.TotalSteps-completed)
	}
	snapshot := *p
	o.progressMutex.Unlock()

	for _, callback := range o.progressCallbacks {
		callback(&snapshot)
	}
}
