// Package transport adapts a namespace publisher to the peek, get and put
// operations a build tool performs against a remote repository.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"

	mfspub "github.com/ipfs/go-mfspub"
)

var log = logging.Logger("mfspub-transport")

// Scheme of the repository URLs served by this package.
const Scheme = "ipfs"

var (
	// ErrNotFound is returned when a location is absent or not a file.
	ErrNotFound = errors.New("resource not found")

	// ErrNoTransporter is returned for repository URLs this package does not
	// serve.
	ErrNoTransporter = errors.New("no transporter")

	// ErrInvalidURL is returned for ipfs: URLs without a namespace.
	ErrInvalidURL = fmt.Errorf("%w: invalid IPFS URL; should be ipfs:namespace[/namespacePrefix] where no segment can be empty string", ErrNoTransporter)
)

// Error classes returned by Transporter.Classify.
const (
	ErrorOther = iota
	ErrorNotFound
)

// Listener observes the progress of a transfer. Returning an error aborts
// the transfer with that error.
type Listener interface {
	Started(length int64) error
	Progressed(n int) error
}

// GetTask downloads Location into Sink.
type GetTask struct {
	Location string
	Sink     io.Writer
	Listener Listener
}

// PutTask uploads Source to Location. Size is -1 when unknown.
type PutTask struct {
	Location string
	Source   io.Reader
	Size     int64
	Listener Listener
}

// Transporter serves one repository from a publisher.
type Transporter struct {
	publisher      mfspub.Publisher
	closePublisher bool
	closed         atomic.Bool
}

// New constructs a transporter over pub. When closePublisher is set, closing
// the transporter closes pub too.
func New(pub mfspub.Publisher, closePublisher bool) *Transporter {
	if pub == nil {
		panic("nil publisher")
	}
	return &Transporter{publisher: pub, closePublisher: closePublisher}
}

// Classify maps an error returned by the transporter to an error class.
func (t *Transporter) Classify(err error) int {
	if errors.Is(err, ErrNotFound) {
		return ErrorNotFound
	}
	return ErrorOther
}

// Peek checks that location exists and is a file.
func (t *Transporter) Peek(ctx context.Context, location string) error {
	if t.closed.Load() {
		return mfspub.ErrClosed
	}
	_, err := t.file(ctx, location)
	return err
}

func (t *Transporter) file(ctx context.Context, location string) (mfspub.Stat, error) {
	st, ok, err := t.publisher.Stat(ctx, location)
	if err != nil {
		return mfspub.Stat{}, err
	}
	if !ok || !st.IsFile() {
		return mfspub.Stat{}, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return st, nil
}

// Get streams the content of location into task.Sink.
func (t *Transporter) Get(ctx context.Context, task *GetTask) error {
	if t.closed.Load() {
		return mfspub.ErrClosed
	}
	st, err := t.file(ctx, task.Location)
	if err != nil {
		return err
	}
	rc, ok, err := t.publisher.Get(ctx, st.Hash())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s (%s)", ErrNotFound, task.Location, st.Hash())
	}
	defer rc.Close()

	if task.Listener != nil {
		if err := task.Listener.Started(st.Size()); err != nil {
			return err
		}
	}
	var sink io.Writer = task.Sink
	if sink == nil {
		sink = io.Discard
	}
	n, err := io.Copy(&progressWriter{w: sink, l: task.Listener}, rc)
	if err != nil {
		return err
	}
	log.Debugf("got %s (%d bytes)", task.Location, n)
	return nil
}

// Put uploads task.Source to task.Location.
func (t *Transporter) Put(ctx context.Context, task *PutTask) error {
	if t.closed.Load() {
		return mfspub.ErrClosed
	}
	if task.Source == nil {
		return fmt.Errorf("no content to put at %s", task.Location)
	}
	if task.Listener != nil {
		if err := task.Listener.Started(task.Size); err != nil {
			return err
		}
	}
	r := &progressReader{r: task.Source, l: task.Listener}
	if err := t.publisher.Put(ctx, task.Location, r); err != nil {
		if r.err != nil {
			return r.err
		}
		return err
	}
	log.Debugf("put %s", task.Location)
	return nil
}

// Close closes the transporter and, if configured to, its publisher.
func (t *Transporter) Close(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.closePublisher {
		return t.publisher.Close(ctx)
	}
	return nil
}

// ParseURL splits an ipfs:namespace[/namespacePrefix] URL.
func ParseURL(url string) (namespace, namespacePrefix string, err error) {
	rest, ok := strings.CutPrefix(url, Scheme+":")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrNoTransporter, url)
	}
	rest = strings.TrimLeft(rest, "/")
	namespace, namespacePrefix, _ = strings.Cut(rest, "/")
	if strings.TrimSpace(namespace) == "" {
		return "", "", ErrInvalidURL
	}
	return namespace, namespacePrefix, nil
}

type progressWriter struct {
	w io.Writer
	l Listener
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 && pw.l != nil {
		if lerr := pw.l.Progressed(n); lerr != nil {
			return n, lerr
		}
	}
	return n, err
}

type progressReader struct {
	r   io.Reader
	l   Listener
	err error
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.l != nil {
		if lerr := pr.l.Progressed(n); lerr != nil {
			pr.err = lerr
			return n, lerr
		}
	}
	return n, err
}
