package persistence

import (
	"time"

	"github.com/MimeLyc/webp-autogen/internal/convert"
)

// Trigger names what started a batch run.
type Trigger string

const (
	TriggerAjax  Trigger = "ajax"
	TriggerAdmin Trigger = "admin"
	TriggerCron  Trigger = "cron"
	TriggerCLI   Trigger = "cli"
)

// BatchRun is one recorded call of the batch converter.
type BatchRun struct {
	ID         int64               `json:"id"`
	Trigger    Trigger             `json:"trigger"`
	Quality    int                 `json:"quality"`
	Result     convert.BatchResult `json:"result"`
	Error      string              `json:"error,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

func (r BatchRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
