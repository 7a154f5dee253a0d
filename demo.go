package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"minos/event"
	"minos/sched"
	"minos/timer"
)

// Event bits used by the demo threads.
const (
	bitData uint32 = 0x1 // producer -> consumer: payload ready
	bitAck  uint32 = 0x2 // consumer -> producer: payload consumed
)

// runDemo runs a producer/consumer pair that hand a counter back and
// forth over a single event object, with a real-time goroutine standing
// in for the hardware tick interrupt. Returns the scheduler counters.
func runDemo(cfg demoConfig, log zerolog.Logger) (map[string]int, error) {
	s := sched.New(sched.Config{Logger: &log})
	tm := timer.New(s, log)
	evs := event.NewService(s, tm, s.Registry(), log)

	ev := &event.Event{}
	if err := evs.Create(ev); err != nil {
		return nil, err
	}

	var produced, consumed int
	var runErr error

	fail := func(err error) {
		if runErr == nil {
			runErr = err
		}
	}

	_, err := s.Spawn("producer", cfg.ProducerPriority, func() {
		for i := 0; i < cfg.Rounds; i++ {
			if err := evs.Set(ev, bitData); err != nil {
				fail(fmt.Errorf("producer set: %w", err))
				return
			}
			produced++
			got, err := evs.Wait(ev, bitAck, cfg.AckTimeoutTicks)
			if err != nil {
				fail(fmt.Errorf("producer ack wait: %w", err))
				return
			}
			if err := evs.Clear(ev, got); err != nil {
				fail(fmt.Errorf("producer clear: %w", err))
				return
			}
			log.Info().Int("round", i).Msg("producer acked")
		}
	})
	if err != nil {
		return nil, err
	}

	_, err = s.Spawn("consumer", cfg.ConsumerPriority, func() {
		for i := 0; i < cfg.Rounds; i++ {
			got, err := evs.Wait(ev, bitData, event.Forever)
			if err != nil {
				fail(fmt.Errorf("consumer wait: %w", err))
				return
			}
			if err := evs.Clear(ev, got); err != nil {
				fail(fmt.Errorf("consumer clear: %w", err))
				return
			}
			consumed++
			// Let the clock advance a little before acking, so the
			// producer's timed wait actually exercises the timer queue.
			if err := tm.Delay(2); err != nil {
				fail(fmt.Errorf("consumer delay: %w", err))
				return
			}
			if err := evs.Set(ev, bitAck); err != nil {
				fail(fmt.Errorf("consumer ack: %w", err))
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}

	// The tick interrupt. Runs until both threads are done.
	stop := make(chan struct{})
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		ticker := time.NewTicker(time.Duration(cfg.TickMicros) * time.Microsecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tm.Advance(1)
			}
		}
	}()

	s.Start()
	s.Join()
	close(stop)
	<-tickDone

	if runErr != nil {
		return nil, runErr
	}
	if produced != cfg.Rounds || consumed != cfg.Rounds {
		return nil, fmt.Errorf("lockstep broken: produced %d consumed %d of %d", produced, consumed, cfg.Rounds)
	}
	if err := evs.Delete(ev); err != nil {
		return nil, err
	}
	log.Info().Int64("ticks", tm.Now()).Msg("demo done")

	return s.Stats().Snapshot(), nil
}
