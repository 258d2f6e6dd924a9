package scheduler

// StateSnapshot is a point-in-time capture of everything a checkpoint
// needs to persist and later rebuild: the pending queue, the visited
// set, in-flight work (treated as never-completed on resume), and the
// counters that feed the archive summary.
type StateSnapshot struct {
	CrawlID     string
	Queue       []QueueEntry
	Visited     []string
	InFlight    []QueueEntry
	PagesDone   int
	ErrorsCount int
	AssetsCount int
	MaxDepthSeen int
}

// Snapshot captures the scheduler's queue/visited/in-flight state under
// lock. Safe to call at any time, including concurrently with Run — the
// checkpoint window only needs the result to be internally consistent,
// not for dispatch to be frozen while it's taken.
func (s *Scheduler) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queue []QueueEntry
	for depth := s.minDepth; depth <= s.maxDepthSeen; depth++ {
		queue = append(queue, s.queues[depth]...)
	}

	visited := make([]string, 0, len(s.visited))
	for k := range s.visited {
		visited = append(visited, k)
	}

	inFlight := make([]QueueEntry, 0, len(s.inFlight))
	for _, st := range s.inFlight {
		inFlight = append(inFlight, QueueEntry{URL: st.URL, URLKey: st.URLKey, Depth: st.Depth})
	}

	return StateSnapshot{
		CrawlID:      s.cfg.CrawlID,
		Queue:        queue,
		Visited:      visited,
		InFlight:     inFlight,
		PagesDone:    s.stats.PagesCompleted,
		ErrorsCount:  s.stats.ErrorsCount,
		AssetsCount:  s.stats.AssetsCount,
		MaxDepthSeen: s.maxDepthSeen,
	}
}

// Restore rebuilds queue/visited/in-flight state from a prior snapshot.
// Must be called before Run (and after Seed, or instead of it — a
// resumed crawl doesn't re-seed). In-flight entries from the prior run
// are re-enqueued at their original depth with retryOfInFlight set, so
// admit() re-dispatches them without rejecting them as already-visited.
func (s *Scheduler) Restore(snap StateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range snap.Visited {
		s.visited[v] = struct{}{}
	}

	enqueue := func(e QueueEntry, retry bool) {
		if _, ok := s.enqueuedKeys[e.URLKey]; ok {
			return
		}
		e.retryOfInFlight = retry
		s.enqueuedKeys[e.URLKey] = struct{}{}
		s.queues[e.Depth] = append(s.queues[e.Depth], e)
		if e.Depth > s.maxDepthSeen {
			s.maxDepthSeen = e.Depth
		}
	}
	for _, e := range snap.Queue {
		enqueue(e, false)
	}
	for _, e := range snap.InFlight {
		enqueue(e, true)
	}

	s.stats.PagesCompleted = snap.PagesDone
	s.stats.ErrorsCount = snap.ErrorsCount
	s.stats.AssetsCount = snap.AssetsCount
}
