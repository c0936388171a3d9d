package metrics

import "time"

type NoopCollector struct{}

func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (NoopCollector) VoteRecorded(string, bool)                         {}
func (NoopCollector) VoteRefused(string)                                {}
func (NoopCollector) SubmissionFinalized(string, string, time.Duration) {}
func (NoopCollector) JobFinished(string, error, time.Duration)          {}
func (NoopCollector) BlockedValidators(string, int)                     {}
