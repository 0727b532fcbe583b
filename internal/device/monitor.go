// Package device plays the live mix on a local output device. It is an
// optional sink for headless boxes with speakers attached; when no device is
// available the server keeps running without it.
package device

import (
	"fmt"
	"log"

	"github.com/gordonklaus/portaudio"

	"github.com/stemmix/api/internal/audio"
	"github.com/stemmix/api/internal/stream"
)

// Monitor plays broadcaster frames on the default output device.
type Monitor struct {
	stream   *portaudio.Stream
	buffer   []int16
	listener *stream.Listener
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor opens the default output device at the fixed mix format.
func NewMonitor(b *stream.Broadcaster) (*Monitor, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	m := &Monitor{
		buffer: make([]int16, audio.FrameSamples),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	pa, err := portaudio.OpenDefaultStream(
		0,              // input channels
		audio.Channels, // output channels
		float64(audio.SampleRate),
		audio.FrameSize, // frames per buffer
		m.buffer,
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	m.stream = pa
	m.listener = b.Subscribe()

	go m.run(b)
	return m, nil
}

func (m *Monitor) run(b *stream.Broadcaster) {
	defer close(m.done)
	defer b.Unsubscribe(m.listener)

	if err := m.stream.Start(); err != nil {
		log.Printf("Monitor: stream start error: %v", err)
		return
	}
	defer m.stream.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-m.listener.Done():
			return
		case frame, ok := <-m.listener.C:
			if !ok {
				return
			}
			n := copy(m.buffer, frame)
			for i := n; i < len(m.buffer); i++ {
				m.buffer[i] = 0
			}
			if err := m.stream.Write(); err != nil {
				log.Printf("Monitor: device write error: %v", err)
				return
			}
		}
	}
}

// Close stops playback and releases the device.
func (m *Monitor) Close() error {
	close(m.stop)
	<-m.done
	var err error
	if m.stream != nil {
		err = m.stream.Close()
	}
	portaudio.Terminate()
	return err
}
