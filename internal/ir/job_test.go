package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Terminal(t *testing.T) {
	for _, s := range []JobStatus{JobCompleted, JobFailed, JobCancelled} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.Active(), s)
	}
	for _, s := range []JobStatus{JobPending, JobClaimed, JobRunning} {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, JobClaimed.Active())
	assert.True(t, JobRunning.Active())
}

func TestJobType_Valid(t *testing.T) {
	assert.True(t, JobPreview.Valid())
	assert.True(t, JobExport.Valid())
	assert.False(t, JobType("reindex").Valid())
}

func TestTier_AtLeast(t *testing.T) {
	assert.True(t, TierHigh.AtLeast(TierMedium))
	assert.True(t, TierMedium.AtLeast(TierMedium))
	assert.False(t, TierLow.AtLeast(TierMedium))
}

func TestClauseKey_Sentinel(t *testing.T) {
	assert.Equal(t, SectionClauseKey, ClauseKey(""))
	assert.Equal(t, "c3", ClauseKey("c3"))
}

func TestParseTargetKey(t *testing.T) {
	k, err := ParseTargetKey("ca-001/7.01")
	assert.NoError(t, err)
	assert.Equal(t, TargetKey{DocID: "ca-001", SectionNumber: "7.01", ClauseKey: SectionClauseKey}, k)

	k, err = ParseTargetKey("ca-001/7.01/b")
	assert.NoError(t, err)
	assert.Equal(t, "b", k.ClauseKey)

	for _, bad := range []string{"ca-001", "/7.01", "a/b/c/d", "ca-001/"} {
		_, err := ParseTargetKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestPreview_ExpiredOnlyPastTTL(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pv := Preview{CreatedAt: created, ExpiresAt: created.Add(time.Hour)}

	assert.False(t, pv.Expired(created))
	assert.False(t, pv.Expired(created.Add(time.Hour)), "exactly TTL is still appliable")
	assert.True(t, pv.Expired(created.Add(time.Hour+time.Nanosecond)))
}
