package eventbus

// Recorder observes dispatch outcomes for external instrumentation —
// the metrics package's Counters is the production implementation;
// occupancy is polled separately through Stats. All methods must be
// safe for concurrent use.
type Recorder interface {
	ObserveSend()
	ObservePublish()
	ObserveNoHandlers()
	ObserveTimeout()
	ObserveRecipientFailure()
}

type noopRecorder struct{}

func (noopRecorder) ObserveSend()             {}
func (noopRecorder) ObservePublish()          {}
func (noopRecorder) ObserveNoHandlers()       {}
func (noopRecorder) ObserveTimeout()          {}
func (noopRecorder) ObserveRecipientFailure() {}

// Option configures optional behavior at New.
type Option func(*bus)

// WithRecorder installs r to observe dispatch outcomes as they happen.
// Without this option a bus records nothing.
func WithRecorder(r Recorder) Option {
	return func(b *bus) {
		if r != nil {
			b.recorder = r
		}
	}
}
