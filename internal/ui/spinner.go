package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Spinner displays an animated progress line on w
type Spinner struct {
	w        io.Writer
	message  string
	frames   []string
	interval time.Duration
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
}

var defaultFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewSpinner creates a spinner writing to w
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:        w,
		message:  message,
		frames:   defaultFrames,
		interval: 80 * time.Millisecond,
	}
}

// Start begins the animation. Without a terminal nothing is drawn.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running || !isTTY {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.spin()
}

func (s *Spinner) spin() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-s.stopCh:
			fmt.Fprint(s.w, "\r"+strings.Repeat(" ", 60)+"\r")
			return
		case <-ticker.C:
			s.mu.Lock()
			message := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.w, "\r%s %s   ", Color(Cyan, s.frames[i%len(s.frames)]), message)
		}
	}
}

// SetMessage updates the message while running
func (s *Spinner) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

// Stop halts the animation and clears the line
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}
