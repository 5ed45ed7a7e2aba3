// Package storage provides the core storage engine components for PageDB.
package storage

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/pagedb/internal/logging"
)

// Recovery errors.
var (
	ErrDamagedRun = errors.New("committed log run contains an unreadable frame")
)

// RecoveryIssue describes a committed log run that could not be replayed.
type RecoveryIssue struct {
	TxID     uint32
	Position int64
	Err      error
}

// RecoveryReport summarizes a recovery pass.
type RecoveryReport struct {
	// Frames is the number of frames found in the log.
	Frames int64
	// Replayed is the number of committed runs published.
	Replayed int
	// Discarded is the number of frames dropped as uncommitted or torn.
	Discarded int64
	// Skipped lists damaged committed runs left out under AutoRebuild.
	Skipped []RecoveryIssue
	// MaxTxID is the largest transaction id seen in the log.
	MaxTxID uint32
	// Checkpoint is the result of the closing checkpoint, nil in read-only mode.
	Checkpoint *CheckpointResult
}

type logRun struct {
	txID      uint32
	pages     []PageID
	positions []int64
	damaged   error
	badPos    int64
}

// Recover scans the log and publishes every run that carries a commit
// marker. Runs are contiguous in the log because commits are serialized, so a
// run is everything between two confirmed frames. An unreadable frame inside a
// run that later confirms means the log is corrupt: that fails recovery, or
// with tolerate set the run is skipped and reported. Unreadable frames in an
// unconfirmed tail are a torn write and are dropped.
//
// Unless the disk is read-only, recovery ends with a checkpoint that merges
// the replayed runs into the data area and empties the log.
func (s *PageStore) Recover(tolerate bool, log logging.Logger) (*RecoveryReport, error) {
	if log == nil {
		log = logging.NewNop()
	}
	report := &RecoveryReport{Frames: s.WAL.Frames()}
	run := &logRun{}
	var failure error

	s.WAL.Scan(func(pos int64, p *Page, err error) bool {
		if err != nil {
			if run.damaged == nil {
				run.damaged = err
				run.badPos = pos
			}
			return true
		}
		if p.Header.TxID > report.MaxTxID {
			report.MaxTxID = p.Header.TxID
		}
		if len(run.pages) == 0 && run.damaged == nil {
			run.txID = p.Header.TxID
		}
		run.pages = append(run.pages, p.Header.PageID)
		run.positions = append(run.positions, pos)

		if p.Header.Flags&PageFlagConfirmed == 0 {
			return true
		}

		if run.damaged != nil || p.Header.TxID != run.txID {
			issue := RecoveryIssue{TxID: p.Header.TxID, Position: run.badPos, Err: run.damaged}
			if issue.Err == nil {
				issue.Err = fmt.Errorf("frame at %d belongs to another transaction", run.positions[0])
			}
			if !tolerate {
				failure = CorruptPage("recover", PageID(0), fmt.Errorf("%w: tx %d at frame %d: %v",
					ErrDamagedRun, issue.TxID, issue.Position, issue.Err))
				return false
			}
			log.Warn("skipping damaged log run", "tx", issue.TxID, "frame", issue.Position, "error", issue.Err)
			report.Skipped = append(report.Skipped, issue)
			report.Discarded += int64(len(run.pages))
			run = &logRun{}
			return true
		}

		s.Index.Publish(run.pages, run.positions)
		report.Replayed++
		run = &logRun{}
		return true
	})
	if failure != nil {
		return report, failure
	}

	report.Discarded += int64(len(run.pages))
	if run.damaged != nil {
		report.Discarded++
		log.Warn("dropping torn log tail", "frame", run.badPos, "error", run.damaged)
	}

	if s.Disk.ReadOnly() {
		return report, nil
	}
	res, err := s.Checkpoint()
	if err != nil {
		return report, err
	}
	report.Checkpoint = res
	log.Info("recovery complete", "frames", report.Frames, "replayed", report.Replayed,
		"discarded", report.Discarded, "pages", res.Pages)
	return report, nil
}
