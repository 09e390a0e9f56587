package revision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	localRevisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folder_sync_local_revisions_total",
		Help: "Local revisions accepted into the pending queue",
	})
	remoteAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folder_sync_remote_applied_total",
		Help: "Server revisions composed into the pad",
	})
	rebasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folder_sync_rebases_total",
		Help: "Pending queues transformed against a conflicting server revision",
	})
	bufferedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folder_sync_buffered_total",
		Help: "Server revisions buffered because of a gap",
	})
	acksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folder_sync_acks_total",
		Help: "Pending revisions acknowledged by the server",
	})
	divergencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "folder_sync_divergences_total",
		Help: "Sessions that diverged from the server state",
	})
)
