package voice

import "time"

// Status is what the coach shows about voice input.
type Status struct {
	Listening      bool      `json:"listening"`
	Message        string    `json:"message,omitempty"`
	LastTranscript string    `json:"last_transcript,omitempty"`
	LastCommand    string    `json:"last_command,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Status returns the current status.
func (p *Pipeline) Status() Status {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status
}

// Subscribe returns a stream of status updates and a function that ends the
// subscription. The stream holds only the latest status; a slow reader skips
// intermediate updates.
func (p *Pipeline) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	p.statusMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	ch <- p.status
	p.statusMu.Unlock()

	return ch, func() {
		p.statusMu.Lock()
		delete(p.subs, id)
		p.statusMu.Unlock()
	}
}

func (p *Pipeline) setStatus(fn func(*Status)) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	fn(&p.status)
	p.status.UpdatedAt = time.Now()
	for _, ch := range p.subs {
		// Replace an unread update with the newer one.
		select {
		case <-ch:
		default:
		}
		ch <- p.status
	}
}
