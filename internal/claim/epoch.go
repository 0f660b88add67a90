package claim

import "time"

// EpochInfo is the boardroom state needed to derive a member's claim lock
type EpochInfo struct {
	CurrentEpoch    uint64
	EpochTimerStart uint64 // epoch in which the member's reward timer last started
	LockupEpochs    uint64
	NextEpochPoint  time.Time
	Period          time.Duration
}

// LockFromEpochs derives the claim lock window from epoch data. Rewards unlock
// at the start of epoch EpochTimerStart+LockupEpochs; nil means no lock.
func LockFromEpochs(info EpochInfo) *Lock {
	target := info.EpochTimerStart + info.LockupEpochs
	if target <= info.CurrentEpoch || info.Period <= 0 {
		return nil
	}

	// NextEpochPoint is the start of CurrentEpoch+1
	to := info.NextEpochPoint.Add(time.Duration(target-info.CurrentEpoch-1) * info.Period)

	elapsedEpochs := uint64(0)
	if info.CurrentEpoch > info.EpochTimerStart {
		elapsedEpochs = info.CurrentEpoch - info.EpochTimerStart
	}
	from := info.NextEpochPoint.Add(-time.Duration(elapsedEpochs+1) * info.Period)

	return &Lock{From: from, To: to}
}
