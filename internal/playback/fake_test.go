package playback

import (
	"sort"
	"time"
)

// fakeScheduler is a manual clock; callbacks run only from Advance or Drain.
type fakeScheduler struct {
	now    time.Duration
	timers []*fakeTimer
	posted []func()
}

type fakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *fakeScheduler) Post(fn func()) { s.posted = append(s.posted, fn) }

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) Stopper {
	t := &fakeTimer{at: s.now + d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Drain runs posted callbacks until none remain.
func (s *fakeScheduler) Drain() {
	for len(s.posted) > 0 {
		fn := s.posted[0]
		s.posted = s.posted[1:]
		fn()
	}
}

// Advance moves the clock and fires due timers in order.
func (s *fakeScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		sort.SliceStable(s.timers, func(i, j int) bool { return s.timers[i].at < s.timers[j].at })
		var next *fakeTimer
		for _, t := range s.timers {
			if !t.stopped && !t.fired && t.at <= target {
				next = t
				break
			}
		}
		if next == nil {
			break
		}
		s.now = next.at
		next.fired = true
		next.fn()
		s.Drain()
	}
	s.now = target
}

// armed reports the number of live timers.
func (s *fakeScheduler) armed() int {
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakePlayback struct {
	audio   []byte
	done    func(error)
	stopped bool
}

func (p *fakePlayback) Stop() { p.stopped = true }

type fakePlayer struct {
	plays []*fakePlayback
}

func (p *fakePlayer) StreamAudio(audio []byte, done func(error)) Playback {
	pb := &fakePlayback{audio: audio, done: done}
	p.plays = append(p.plays, pb)
	return pb
}

func (p *fakePlayer) last() *fakePlayback {
	if len(p.plays) == 0 {
		return nil
	}
	return p.plays[len(p.plays)-1]
}

func (p *fakePlayer) activeCount() int {
	n := 0
	for _, pb := range p.plays {
		if !pb.stopped && pb.done != nil {
			n++
		}
	}
	return n
}

// finish completes a playback as the leg would, from its own goroutine.
func (p *fakePlayer) finish(pb *fakePlayback, err error) {
	done := pb.done
	pb.done = nil
	if done != nil {
		done(err)
	}
}
