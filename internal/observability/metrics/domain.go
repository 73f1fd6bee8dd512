package metrics

// WorkflowTransition records a report workflow state transition.
func WorkflowTransition(from, to string) {
	if !enabled {
		return
	}
	workflowTransitionsTotal.WithLabelValues(from, to).Inc()
}

// DisputeTrigger records the outcome of a dispute trigger.
func DisputeTrigger(outcome string) {
	if !enabled {
		return
	}
	disputeTriggerTotal.WithLabelValues(outcome).Inc()
}

// RecapRequest records a recap request result.
func RecapRequest(result string) {
	if !enabled {
		return
	}
	recapRequestsTotal.WithLabelValues(result).Inc()
}

// SessionOpened increments the live session gauge.
func SessionOpened() {
	if !enabled {
		return
	}
	sessionsActive.Inc()
}

// SessionClosed decrements the live session gauge.
func SessionClosed() {
	if !enabled {
		return
	}
	sessionsActive.Dec()
}

// CaseRecord records an arbitration case intake.
func CaseRecord(status string) {
	if !enabled {
		return
	}
	caseRecordTotal.WithLabelValues(status).Inc()
}

// EvidenceUpload records an evidence upload.
func EvidenceUpload(status string) {
	if !enabled {
		return
	}
	evidenceUploadTotal.WithLabelValues(status).Inc()
}
