package manager

import (
	"strings"
	"sync"
	"time"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
)

// UpdateProgress is the latest known state of one component.
type UpdateProgress struct {
	Key         string    `json:"key"`
	Component   string    `json:"component"`
	DisplayName string    `json:"display_name"`
	Instance    string    `json:"instance,omitempty"`
	Stage       string    `json:"stage"`
	Percent     int       `json:"percent"`
	Downloaded  int64     `json:"downloaded"`
	Total       int64     `json:"total"`
	Running     bool      `json:"running"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UpdateProgressSnapshot is a point-in-time copy of all components.
type UpdateProgressSnapshot struct {
	Updating   bool             `json:"updating"`
	Components []UpdateProgress `json:"components"`
}

var componentDisplayNames = map[models.Component]string{
	models.ComponentTool:                "Patch tool",
	models.ComponentPatchDownload:       "Patch download",
	models.ComponentPatchApply:          "Patch apply",
	models.ComponentOnlinePatchDownload: "Online patch download",
	models.ComponentOnlinePatchApply:    "Online patch",
	models.ComponentOnlinePatchRevert:   "Online patch revert",
	models.ComponentRuntimeCheck:        "Runtime check",
	models.ComponentRuntimeDownload:     "Runtime download",
	models.ComponentRuntimeInstall:      "Runtime install",
	models.ComponentAuxDownload:         "Auxiliary files",
}

var progressOrder = []models.Component{
	models.ComponentTool,
	models.ComponentPatchDownload,
	models.ComponentPatchApply,
	models.ComponentOnlinePatchDownload,
	models.ComponentOnlinePatchApply,
	models.ComponentOnlinePatchRevert,
	models.ComponentRuntimeCheck,
	models.ComponentRuntimeDownload,
	models.ComponentRuntimeInstall,
	models.ComponentAuxDownload,
}

func displayName(c models.Component) string {
	if name, ok := componentDisplayNames[c]; ok {
		return name
	}
	return string(c)
}

// progressTracker folds events into per-component progress entries.
type progressTracker struct {
	mu       sync.RWMutex
	entries  map[models.Component]*UpdateProgress
	updating int
}

func newProgressTracker() *progressTracker {
	t := &progressTracker{entries: make(map[models.Component]*UpdateProgress)}
	for _, c := range progressOrder {
		t.entries[c] = &UpdateProgress{
			Key:         string(c),
			Component:   string(c),
			DisplayName: displayName(c),
			Stage:       "Idle",
			UpdatedAt:   time.Now(),
		}
	}
	return t
}

func normalizeStage(stage string) string {
	trimmed := strings.TrimSpace(stage)
	if trimmed == "" {
		return "Processing"
	}
	return trimmed
}

func (t *progressTracker) entryLocked(c models.Component) *UpdateProgress {
	entry, ok := t.entries[c]
	if !ok {
		entry = &UpdateProgress{Key: string(c), Component: string(c), DisplayName: displayName(c), Stage: "Idle"}
		t.entries[c] = entry
	}
	return entry
}

// Emit implements models.Sink.
func (t *progressTracker) Emit(e models.Event) {
	if e.Component == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entryLocked(e.Component)
	entry.Instance = e.Instance
	entry.UpdatedAt = time.Now()
	switch e.Phase {
	case models.PhaseStart:
		entry.Stage = normalizeStage(e.Stage)
		entry.Percent = 0
		entry.Downloaded = 0
		entry.Total = e.Total
		entry.Running = true
		entry.Error = ""
	case models.PhaseProgress:
		entry.Stage = normalizeStage(e.Stage)
		entry.Downloaded = e.Downloaded
		if e.Total > 0 {
			entry.Total = e.Total
		}
		if e.Percent > 0 {
			entry.Percent = clampInt(int(e.Percent))
		} else {
			entry.Percent = calculatePercent(entry.Downloaded, entry.Total)
		}
		entry.Running = true
	case models.PhaseEnd:
		if e.Stage != "" {
			entry.Stage = normalizeStage(e.Stage)
		}
		entry.Running = false
		if e.Err != "" {
			entry.Error = e.Err
		} else {
			entry.Error = ""
			entry.Percent = 100
		}
	}
}

func (t *progressTracker) begin() {
	t.mu.Lock()
	t.updating++
	t.mu.Unlock()
}

func (t *progressTracker) end() {
	t.mu.Lock()
	if t.updating > 0 {
		t.updating--
	}
	t.mu.Unlock()
}

func (t *progressTracker) snapshot() UpdateProgressSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := UpdateProgressSnapshot{Updating: t.updating > 0}
	for _, c := range progressOrder {
		if entry, ok := t.entries[c]; ok && entry != nil {
			snap.Components = append(snap.Components, *entry)
		}
	}
	return snap
}

func calculatePercent(processed, total int64) int {
	if total <= 0 {
		if processed > 0 {
			return 100
		}
		return 0
	}
	return clampInt(int((processed * 100) / total))
}

func clampInt(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
