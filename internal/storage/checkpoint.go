// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"sort"
)

// CheckpointResult reports what a checkpoint did.
type CheckpointResult struct {
	// Pages is the number of pages copied into the data area.
	Pages int
	// Upto is the newest version merged into the data area.
	Upto uint64
	// Truncated is true when the log was emptied.
	Truncated bool
}

// Checkpoint copies committed log frames into the data area. For every page
// it writes the newest version at or below the oldest live reader, so every
// snapshot still resolves the same page contents afterwards. The log is
// truncated once no indexed frame remains.
//
// Callers must hold the commit lock: a run appended but not yet published
// would otherwise be lost by the truncation.
func (s *PageStore) Checkpoint() (*CheckpointResult, error) {
	if s.Disk.ReadOnly() {
		return nil, &Error{Code: CodeNotSupported, Op: "checkpoint", Err: ErrReadOnly}
	}

	plan := s.Index.Plan()
	res := &CheckpointResult{Upto: plan.Upto}

	if len(plan.Copy) > 0 {
		ids := make([]PageID, 0, len(plan.Copy))
		for id := range plan.Copy {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		pages := make([]*Page, 0, len(ids))
		for _, id := range ids {
			p, err := s.WAL.ReadFrame(plan.Copy[id])
			if err != nil {
				return nil, err
			}
			p.Header.Flags &^= PageFlagConfirmed
			pages = append(pages, p)
		}
		if err := s.Disk.WriteDataPages(pages); err != nil {
			return nil, NewError(CodeFaulted, "checkpoint", err)
		}
		if err := s.Disk.SyncData(); err != nil {
			return nil, NewError(CodeFaulted, "checkpoint", err)
		}
		for _, id := range ids {
			s.Cache.Invalidate(OriginData, int64(id))
		}
		res.Pages = len(pages)
	}

	if !s.Index.Apply(plan) {
		s.Metrics.Checkpoints.Inc()
		return res, nil
	}

	s.Index.Lock()
	defer s.Index.Unlock()
	if s.Index.tree.Len() == 0 && s.WAL.Frames() > 0 {
		if err := s.WAL.Truncate(0); err != nil {
			return nil, NewError(CodeFaulted, "checkpoint", err)
		}
		s.Cache.InvalidateOrigin(OriginLog)
		res.Truncated = true
	}
	s.Metrics.Checkpoints.Inc()
	return res, nil
}
