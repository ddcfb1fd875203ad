package supervisor

import (
	"bytes"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/mongowebapi/mongo-web-api/pkg/logging"
)

// bestEffortWriter forwards to out until the first write error, which it
// logs. After that, writes are dropped. It never reports an error, so echo
// failures cannot stop output capture.
type bestEffortWriter struct {
	out    io.Writer
	log    logging.Logger
	name   string
	failed bool
}

func (w *bestEffortWriter) Write(p []byte) (int, error) {
	if w.failed {
		return len(p), nil
	}
	if _, err := w.out.Write(p); err != nil {
		w.failed = true
		w.log.Warnf("echo of %s output disabled: %v", w.name, err)
	}
	return len(p), nil
}

// prefixWriter copies complete lines to out, each preceded by a colored
// process tag. Partial lines are held until their newline arrives or Flush is
// called.
type prefixWriter struct {
	lock    sync.Mutex
	out     io.Writer
	prefix  string
	pending []byte
}

func newPrefixWriter(out io.Writer, name string, attr color.Attribute) *prefixWriter {
	return &prefixWriter{
		out:    out,
		prefix: color.New(attr).Sprintf("[%s]", name) + " ",
	}
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		if err := w.emit(w.pending[:i+1]); err != nil {
			return len(p), err
		}
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush writes any trailing partial line.
func (w *prefixWriter) Flush() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	line := append(w.pending, '\n')
	w.pending = nil
	return w.emit(line)
}

func (w *prefixWriter) emit(line []byte) error {
	_, err := io.WriteString(w.out, w.prefix+string(line))
	return err
}
