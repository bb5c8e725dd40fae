// Package conflict reconciles freshly fetched authoritative records with
// the local cache.
package conflict

import (
	"encoding/json"
	"sort"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/logging"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/models"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/uuid"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

// ResolutionStrategyServerWins drops local pending data for any id the
// server returned. No field merge and no timestamp comparison.
const ResolutionStrategyServerWins ResolutionStrategy = models.ResolutionServerWins

// Resolver merges authoritative and local record lists.
type Resolver struct {
	strategy ResolutionStrategy
	now      func() int64
}

// NewResolver creates a server-wins Resolver.
func NewResolver() *Resolver {
	return &Resolver{
		strategy: ResolutionStrategyServerWins,
		now:      models.NowMillis,
	}
}

// Strategy returns the resolver's strategy.
func (r *Resolver) Strategy() ResolutionStrategy {
	return r.strategy
}

// MergeResult is the outcome of a merge.
type MergeResult struct {
	// Records is the merged view: authoritative records in server order,
	// then surviving local-only records newest first.
	Records []*models.CachedRecord
	// Retained are the local-only records kept in Records.
	Retained []*models.CachedRecord
	// Stale are local synced records the server no longer returns.
	Stale []*models.CachedRecord
	// Conflicts has one entry per local unsynced record dropped in favor of the server.
	Conflicts []*models.ConflictLog
}

// Merge reconciles authoritative with local. Inputs are not modified.
func (r *Resolver) Merge(authoritative, local []*models.CachedRecord) *MergeResult {
	result := &MergeResult{
		Records: make([]*models.CachedRecord, 0, len(authoritative)),
	}

	serverByID := make(map[string]*models.CachedRecord, len(authoritative))
	for _, rec := range authoritative {
		c := rec.Clone()
		c.SyncStatus = models.SyncSynced
		serverByID[c.ID] = c
		result.Records = append(result.Records, c)
	}

	for _, rec := range local {
		server, onServer := serverByID[rec.ID]
		switch {
		case rec.SyncStatus == models.SyncSynced && !onServer:
			result.Stale = append(result.Stale, rec.Clone())
		case rec.SyncStatus == models.SyncSynced:
			// replaced by the server copy
		case onServer:
			result.Conflicts = append(result.Conflicts, r.conflictLog(rec, server))
		default:
			result.Retained = append(result.Retained, rec.Clone())
		}
	}

	sort.SliceStable(result.Retained, func(i, j int) bool {
		return result.Retained[i].CreatedAt > result.Retained[j].CreatedAt
	})
	result.Records = append(result.Records, result.Retained...)

	if len(result.Conflicts) > 0 {
		logging.Warn("merge dropped local pending records", map[string]interface{}{
			"count":    len(result.Conflicts),
			"strategy": string(r.strategy),
		})
	}
	return result
}

func (r *Resolver) conflictLog(local, server *models.CachedRecord) *models.ConflictLog {
	discarded, err := json.Marshal(local)
	if err != nil {
		discarded = nil
	}

	logging.Info("conflict resolved using server-wins", map[string]interface{}{
		"entity":           string(local.EntityType),
		"record_id":        local.ID,
		"local_timestamp":  local.UpdatedAt,
		"remote_timestamp": server.UpdatedAt,
	})

	return &models.ConflictLog{
		ID:              uuid.New(),
		EntityType:      local.EntityType,
		RecordID:        local.ID,
		ScopeKey:        local.ScopeKey,
		LocalTimestamp:  local.UpdatedAt,
		RemoteTimestamp: server.UpdatedAt,
		Resolution:      string(r.strategy),
		DiscardedLocal:  string(discarded),
		DetectedAt:      r.now(),
	}
}
