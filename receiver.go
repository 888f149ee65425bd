package audiowire

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/audio"
	"github.com/opd-ai/audiowire/config"
	"github.com/opd-ai/audiowire/metrics"
	"github.com/opd-ai/audiowire/pipeline"
	"github.com/opd-ai/audiowire/sndio"
	"github.com/opd-ai/audiowire/transport"
)

// Receiver is the public receiving peer: bind endpoints, then either pump
// frames to a sink (internal clock) or pull frames directly (external
// clock).
type Receiver struct {
	cfg      config.ReceiverConfig
	pipeline *pipeline.Receiver
	metrics  *metrics.Receiver
	writer   *serialWriter

	mu       sync.Mutex
	ports    []*transport.UDPReceiver
	controls []*transport.UDPControl
	pump     *sndio.Pump
	closed   bool
}

// OpenReceiver creates a receiver from the configuration.
func OpenReceiver(cfg config.ReceiverConfig) (*Receiver, error) {
	m := metrics.NewReceiver()

	p, err := pipeline.NewReceiver(cfg, m)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":       "OpenReceiver",
		"target_latency": cfg.TargetLatency,
		"clock_source":   cfg.ClockSource,
	}).Info("Opened receiver")

	return &Receiver{
		cfg:      cfg,
		pipeline: p,
		metrics:  m,
		writer:   &serialWriter{writer: p},
	}, nil
}

// RegisterMetrics attaches the receiver's telemetry to a prometheus
// registry.
func (r *Receiver) RegisterMetrics(reg prometheus.Registerer) error {
	return r.metrics.Register(reg)
}

// Bind opens a listening socket for an endpoint URI such as
// "rtp://0.0.0.0:10001", "rs8m://0.0.0.0:10002", or "rtcp://0.0.0.0:10003".
// Port zero binds an ephemeral port; BoundAddrs reports the result.
func (r *Receiver) Bind(endpoint string) error {
	ep, err := config.ParseEndpoint(endpoint)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)

	if ep.Proto == config.ProtoRTCP {
		control, err := transport.NewUDPControl(addr, func(data []byte) {
			if err := r.pipeline.ProcessControl(data); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Receiver.Bind",
					"error":    err.Error(),
				}).Debug("Dropping unparsable control packet")
			}
		})
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.controls = append(r.controls, control)
		r.mu.Unlock()
		return nil
	}

	if !ep.IsSourceEndpoint() && !ep.IsRepairEndpoint() {
		return fmt.Errorf("audiowire: endpoint %s carries no media, repair, or control traffic", endpoint)
	}

	port, err := transport.NewUDPReceiver(addr, r.pipeline.Parser(), r.writer)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.ports = append(r.ports, port)
	r.mu.Unlock()
	return nil
}

// BoundAddrs returns the bound media and repair socket addresses in Bind
// order.
func (r *Receiver) BoundAddrs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs := make([]string, len(r.ports))
	for i, p := range r.ports {
		addrs[i] = p.LocalAddr().String()
	}
	return addrs
}

// ReadFrame pulls one mixed frame; the external-clock entry point. The
// caller paces the calls at the frame cadence.
func (r *Receiver) ReadFrame(f *audio.Frame) bool {
	return r.pipeline.ReadFrame(f)
}

// Play pumps frames into the sink until the stream ends or Stop is called;
// the internal-clock entry point. The sink's blocking write paces the loop.
func (r *Receiver) Play(sink sndio.Sink) error {
	pump, err := sndio.NewPump(sndio.PumpConfig{
		Source:      r.pipeline,
		Sink:        sink,
		SampleSpec:  r.cfg.OutputSpec,
		FrameLength: r.cfg.FrameLength,
		Mode:        sndio.ModeContinuous,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.pump = pump
	r.mu.Unlock()

	pump.Run()
	return nil
}

// Stop interrupts Play at the next frame boundary.
func (r *Receiver) Stop() {
	r.mu.Lock()
	pump := r.pump
	r.mu.Unlock()
	if pump != nil {
		pump.Stop()
	}
}

// Sessions returns the number of live sessions.
func (r *Receiver) Sessions() int {
	return r.pipeline.Sessions()
}

// Close stops the sockets and tears down the pipeline.
func (r *Receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ports := r.ports
	controls := r.controls
	r.ports = nil
	r.controls = nil
	r.mu.Unlock()

	r.Stop()
	for _, p := range ports {
		if err := p.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Receiver.Close",
				"error":    err.Error(),
			}).Warn("Socket close failed")
		}
	}
	for _, c := range controls {
		if err := c.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Receiver.Close",
				"error":    err.Error(),
			}).Warn("Control socket close failed")
		}
	}
	return r.pipeline.Close()
}
