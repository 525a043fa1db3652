// Package cogo provides a cooperative, M:N coroutine runtime: a worker-pool
// scheduler with per-worker ready queues and work stealing, a one-shot
// Park/Unpark rendezvous primitive, and a hierarchical timer service.
//
// # Architecture
//
// Every coroutine ([Coroutine]) runs on its own goroutine, permanently
// blocked on a handshake channel except while a [worker] is actively driving
// it — the goroutine's own stack is the coroutine's stack. The [Scheduler]
// decides which blocked goroutine gets the baton next: it owns N workers,
// each popping from a local queue, then the shared overflow queue, then
// stealing from a peer, exactly mirroring how an OS-thread-based M:N runtime
// picks its next stack to resume.
//
// [ParkImpl] is the suspension primitive every higher-level blocking
// operation (channels, mutexes, I/O waiters — none of which this package
// implements) is built from. It resolves the three-way race between an
// external unpark, a timer firing, and a cancellation request, always
// producing exactly one of: success, [ErrTimeout], or [ErrCanceled].
//
// [TimeOutList] is the shared timer service backing park-with-timeout: an
// interval list per distinct duration (naturally sorted by expiry, since
// duration is fixed per list) indexed by a min-heap of interval-list heads,
// so only one heap entry is live per active duration bucket regardless of
// how many timers share it.
//
// # Non-goals
//
// This runtime is strictly cooperative: there is no preemption, no fairness
// guarantee beyond "ready work eventually runs", no real-time latency bound,
// and no cross-process coordination. It defines only the contract an
// external I/O adapter schedules coroutines through ([Reactor], [IOWait]),
// never a concrete epoll/kqueue/IOCP poller; concrete synchronization
// objects and example programs are likewise left to be built on top of
// [ParkImpl] and [Scheduler] elsewhere.
//
// # Usage
//
//	cogo.Configure(cogo.WithWorkers(4))
//	cogo.Go(func() {
//	    p := cogo.NewParkImpl()
//	    go func() {
//	        time.Sleep(100 * time.Millisecond)
//	        p.Unpark()
//	    }()
//	    if err := p.Park(context.Background(), 0); err != nil {
//	        log.Fatal(err)
//	    }
//	})
package cogo
