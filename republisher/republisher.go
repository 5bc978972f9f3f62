// Package republisher periodically publishes namespaces that have pending
// content, so that long running sessions do not wait for their end to be
// visible over IPNS.
package republisher

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	goprocess "github.com/jbenet/goprocess"
	gpctx "github.com/jbenet/goprocess/context"
	"go.uber.org/multierr"
)

var log = logging.Logger("mfspub-repub")

// DefaultRepublishInterval is the default interval at which pending namespaces
// are published.
var DefaultRepublishInterval = time.Minute * 10

// InitialRepublishDelay is the delay before the first publish on start.
var InitialRepublishDelay = time.Minute * 1

// FailureRetryInterval is the interval at which a failed publish is retried.
var FailureRetryInterval = time.Minute * 2

// PublishFunc publishes whatever is pending. Registry.PublishPending bound to
// a session is the usual one.
type PublishFunc func(ctx context.Context) error

type Republisher struct {
	publish    PublishFunc
	failedRuns int

	Interval time.Duration
}

// NewRepublisher creates a new Republisher
func NewRepublisher(pf PublishFunc) *Republisher {
	if pf == nil {
		panic("nil publish func")
	}
	return &Republisher{
		publish:  pf,
		Interval: DefaultRepublishInterval,
	}
}

// Run publishes pending content until proc closes. The first run happens
// after InitialRepublishDelay, or Interval when that is shorter; a failed run
// is retried after FailureRetryInterval.
func (rp *Republisher) Run(proc goprocess.Process) {
	timer := time.NewTimer(min(InitialRepublishDelay, rp.Interval))
	defer timer.Stop()

	for {
		select {
		case <-proc.Closing():
			return
		case <-timer.C:
		}
		timer.Reset(rp.nextDelay(rp.publishPending(proc)))
	}
}

func (rp *Republisher) nextDelay(err error) time.Duration {
	if err != nil && FailureRetryInterval < rp.Interval {
		return FailureRetryInterval
	}
	return rp.Interval
}

// publishPending runs the publish func once, logging every namespace that
// failed to publish.
func (rp *Republisher) publishPending(p goprocess.Process) error {
	ctx, cancel := context.WithCancel(gpctx.OnClosingContext(p))
	defer cancel()

	err := rp.publish(ctx)
	if err == nil {
		rp.failedRuns = 0
		return nil
	}
	rp.failedRuns++
	for _, e := range multierr.Errors(err) {
		log.Infof("republish failed (%d in a row): %s", rp.failedRuns, e)
	}
	return err
}
