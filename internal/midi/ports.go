package midi

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/preroll"
)

// eventQueueSize bounds the hand-off between driver callbacks and the
// dispatcher.
const eventQueueSize = 1024

// Port is a MIDI input that delivers raw messages until stopped.
type Port interface {
	Name() string
	Listen(recv func(msg []byte)) (stop func(), err error)
}

type driverPort struct {
	in drivers.In
}

func (p driverPort) Name() string { return p.in.String() }

func (p driverPort) Listen(recv func(msg []byte)) (func(), error) {
	if err := p.in.Open(); err != nil {
		return nil, err
	}
	name := p.Name()
	stop, err := gomidi.ListenTo(p.in, func(msg gomidi.Message, _ int32) {
		recv(msg)
	}, gomidi.HandleError(func(err error) {
		GetLogger().Warn("MIDI input error",
			logger.String("device", name),
			logger.Error(err))
	}))
	if err != nil {
		_ = p.in.Close()
		return nil, err
	}
	return func() {
		stop()
		_ = p.in.Close()
	}, nil
}

// InputNames lists the names of all MIDI input ports.
func InputNames() []string {
	ins := gomidi.GetInPorts()
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names
}

// FindInputs returns the ports whose names appear in names. Names without a
// matching port are returned as missing.
func FindInputs(names []string) (ports []Port, missing []string) {
	ins := gomidi.GetInPorts()
	for _, name := range names {
		idx := slices.IndexFunc(ins, func(in drivers.In) bool { return in.String() == name })
		if idx < 0 {
			missing = append(missing, name)
			continue
		}
		ports = append(ports, driverPort{in: ins[idx]})
	}
	return ports, missing
}

// CloseDriver releases the MIDI driver.
func CloseDriver() {
	gomidi.CloseDriver()
}

// Listener fans messages from several ports into one handler. Driver
// callbacks only stamp and enqueue; the handler runs on the dispatcher
// goroutine.
type Listener struct {
	handler func(preroll.MIDIEvent)
	events  chan preroll.MIDIEvent
	done    chan struct{}
	wg      sync.WaitGroup
	stops   []func()
	names   []string
	dropped atomic.Uint64
	now     func() time.Time
	once    sync.Once
}

// Listen opens every port and starts dispatching to handler. Ports that fail
// to open are logged and skipped. It fails only when no port could be opened.
func Listen(ports []Port, handler func(preroll.MIDIEvent)) (*Listener, error) {
	l := &Listener{
		handler: handler,
		events:  make(chan preroll.MIDIEvent, eventQueueSize),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	log := GetLogger()

	for _, p := range ports {
		name := p.Name()
		stop, err := p.Listen(func(msg []byte) { l.enqueue(name, msg) })
		if err != nil {
			log.Warn("failed to open MIDI input",
				logger.String("device", name),
				logger.Error(err))
			continue
		}
		l.stops = append(l.stops, stop)
		l.names = append(l.names, name)
		log.Info("MIDI input connected", logger.String("device", name))
	}

	if len(l.stops) == 0 && len(ports) > 0 {
		return nil, errors.Newf("no MIDI input could be opened").
			Component("midi").
			Category(errors.CategoryMIDI).
			Context("requested", len(ports)).
			Build()
	}

	l.wg.Go(l.dispatch)
	return l, nil
}

func (l *Listener) enqueue(device string, msg []byte) {
	ev := preroll.MIDIEvent{
		Device:     device,
		Data:       slices.Clone(msg),
		CapturedAt: l.now(),
	}
	select {
	case l.events <- ev:
	default:
		l.dropped.Add(1)
	}
}

func (l *Listener) dispatch() {
	for {
		select {
		case ev := <-l.events:
			l.handler(ev)
		case <-l.done:
			for {
				select {
				case ev := <-l.events:
					l.handler(ev)
				default:
					return
				}
			}
		}
	}
}

// Devices returns the names of the connected ports.
func (l *Listener) Devices() []string { return slices.Clone(l.names) }

// Dropped returns the number of messages lost to a full queue.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// Close stops all ports and the dispatcher.
func (l *Listener) Close() {
	l.once.Do(func() {
		for _, stop := range l.stops {
			stop()
		}
		close(l.done)
		l.wg.Wait()
		if n := l.dropped.Load(); n > 0 {
			GetLogger().Warn("MIDI messages dropped", logger.Uint64("count", n))
		}
	})
}

// Open connects to the named system inputs. Names that match no port are
// logged and skipped.
func Open(names []string, handler func(preroll.MIDIEvent)) (*Listener, error) {
	ports, missing := FindInputs(names)
	for _, name := range missing {
		GetLogger().Warn("MIDI input not found", logger.String("device", name))
	}
	if len(ports) == 0 && len(names) > 0 {
		return nil, errors.Newf("none of the configured MIDI inputs is present").
			Component("midi").
			Category(errors.CategoryNotFound).
			Context("requested", len(names)).
			Build()
	}
	return Listen(ports, handler)
}
