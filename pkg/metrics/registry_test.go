package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFileSynced(t *testing.T) {
	r := NewRegistry("swarmsync_test")
	r.RecordFileSynced("outbound", "AB:CD:EF:01:23:45:67:89", 1024)

	if got := testutil.ToFloat64(r.filesSyncedTotal.WithLabelValues("outbound", "AB:CD:EF:01:23:45:67:89")); got != 1 {
		t.Errorf("expected files synced counter 1, got %v", got)
	}
	if got := testutil.ToFloat64(r.bytesTransferredTotal.WithLabelValues("outbound", "AB:CD:EF:01:23:45:67:89")); got != 1024 {
		t.Errorf("expected bytes transferred counter 1024, got %v", got)
	}
}

func TestRecordConflictAndTransferMode(t *testing.T) {
	r := NewRegistry("swarmsync_test")
	r.RecordConflict("auto_newest")
	r.RecordTransferMode("delta")
	r.RecordTransferMode("delta")

	if got := testutil.ToFloat64(r.conflictsTotal.WithLabelValues("auto_newest")); got != 1 {
		t.Errorf("expected 1 conflict recorded, got %v", got)
	}
	if got := testutil.ToFloat64(r.deltaVsFullTotal.WithLabelValues("delta")); got != 2 {
		t.Errorf("expected 2 delta transfers recorded, got %v", got)
	}
}

func TestGaugesAndDiscoveryCounters(t *testing.T) {
	r := NewRegistry("swarmsync_test")
	r.SetPeersKnown(3)
	r.RecordPresenceSent()
	r.RecordTrustConflict()
	r.SetPoolActiveChannels(2)

	if got := testutil.ToFloat64(r.peersKnown); got != 3 {
		t.Errorf("expected 3 peers known, got %v", got)
	}
	if got := testutil.ToFloat64(r.presenceSentTotal); got != 1 {
		t.Errorf("expected 1 presence sent, got %v", got)
	}
	if got := testutil.ToFloat64(r.trustConflicts); got != 1 {
		t.Errorf("expected 1 trust conflict, got %v", got)
	}
	if got := testutil.ToFloat64(r.poolActiveChannels); got != 2 {
		t.Errorf("expected 2 active channels, got %v", got)
	}
}

func TestRecordDialAttemptTracksFailures(t *testing.T) {
	r := NewRegistry("swarmsync_test")
	r.RecordDialAttempt(false)
	r.RecordDialAttempt(true)

	if got := testutil.ToFloat64(r.poolDialAttempts); got != 2 {
		t.Errorf("expected 2 dial attempts, got %v", got)
	}
	if got := testutil.ToFloat64(r.poolDialFailures); got != 1 {
		t.Errorf("expected 1 dial failure, got %v", got)
	}
}

func TestVersioningCounters(t *testing.T) {
	r := NewRegistry("swarmsync_test")
	r.RecordVersionCreated()
	r.RecordVersionsPruned(4)

	if got := testutil.ToFloat64(r.versionsCreatedTotal); got != 1 {
		t.Errorf("expected 1 version created, got %v", got)
	}
	if got := testutil.ToFloat64(r.versionsPrunedTotal); got != 4 {
		t.Errorf("expected 4 versions pruned, got %v", got)
	}
}
