// Package ingress implements the two producers (C6) and the Router
// (C7): a single bounded channel of sample.Sample values fed by a
// serial meter producer and a periodic ADC producer, drained by one
// Router goroutine that hands each sample to the DataStore.
package ingress

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"github.com/KarelPeeters/DigitalMeter/internal/adcio"
	"github.com/KarelPeeters/DigitalMeter/internal/meterproto"
	"github.com/KarelPeeters/DigitalMeter/internal/sample"
	"github.com/KarelPeeters/DigitalMeter/internal/telemetry"
)

// backpressureThreshold is the soft channel-depth threshold above
// which the Router logs a warning but keeps consuming (spec §4.5).
const backpressureThreshold = 10

// Processor is the single consumer interface the Router drives; it is
// satisfied by *datastore.DataStore.
type Processor interface {
	Process(sample.Sample) error
}

// Router is the sole consumer of the shared ingress channel.
type Router struct {
	ch      chan sample.Sample
	metrics *telemetry.Metrics
}

// NewRouter builds a Router with a channel of the given depth.
func NewRouter(depth int, metrics *telemetry.Metrics) *Router {
	return &Router{ch: make(chan sample.Sample, depth), metrics: metrics}
}

// Channel returns the shared channel producers push onto.
func (r *Router) Channel() chan<- sample.Sample {
	return r.ch
}

// Run drains the channel into proc until ctx is cancelled or the
// channel is closed.
func (r *Router) Run(ctx context.Context, proc Processor) {
	for {
		select {
		case <-ctx.Done():
			return
		case smp, ok := <-r.ch:
			if !ok {
				return
			}
			if depth := len(r.ch); depth > backpressureThreshold {
				slog.Warn("ingress channel backpressure", "depth", depth)
			}
			if r.metrics != nil {
				r.metrics.SetIngressQueueDepth(len(r.ch))
			}
			if err := proc.Process(smp); err != nil {
				slog.Error("failed to process sample", "error", err)
			}
		}
	}
}

// RunSerialProducer opens a serial connection to portName at baud
// 8N1, reads newline-terminated frames, feeds them through a
// meterproto.Parser, and pushes a MeterSample for every clean record.
// On read timeout it resets the parser and continues, per spec §4.5;
// any other read error ends the producer and is returned.
func RunSerialProducer(ctx context.Context, portName string, baud int, out chan<- sample.Sample) error {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return err
	}
	defer port.Close()

	if err := port.SetReadTimeout(10 * time.Second); err != nil {
		return err
	}

	parser := meterproto.NewParser()
	scanner := bufio.NewScanner(port)

	go func() {
		<-ctx.Done()
		port.Close()
	}()

	for {
		if !scanner.Scan() {
			// Read timeouts yield empty reads, which the scanner reports
			// as io.ErrNoProgress once they repeat.
			if errors.Is(scanner.Err(), io.ErrNoProgress) && ctx.Err() == nil {
				parser.Reset()
				scanner = bufio.NewScanner(port)
				continue
			}
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Text()
		rec, complete := parser.PushLine(line)
		if !complete {
			continue
		}
		if !rec.IsClean {
			slog.Warn("meter: discarding unclean record")
			continue
		}

		select {
		case out <- rec.ToMeterSample():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		parser.Reset()
		return err
	}
	return nil
}

// RunADCProducer bit-bangs the water-level ADC once per period and
// pushes an AdcSample, until ctx is cancelled.
func RunADCProducer(ctx context.Context, gpio adcio.GPIO, gpioDelay, period time.Duration, out chan<- sample.Sample) {
	reader := adcio.NewReader(gpio, gpioDelay)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			raw := reader.Readout()
			smp := sample.AdcSample{Timestamp: now.Unix(), VoltageInt: raw}
			select {
			case out <- smp:
			case <-ctx.Done():
				return
			}
		}
	}
}
