package sentinel

import (
	"os/exec"
	"strconv"
	"time"
)

const (
	scriptQueueCap        = 256
	scriptMaxConcurrent   = 16
	scriptMaxRetries      = 10
	scriptRetryBaseDelay  = 30 * time.Second
	scriptKillAfter       = 60 * time.Second
)

// scriptJob is one queued invocation of a notification or
// client-reconfig script (spec.md §4.10).
type scriptJob struct {
	argv      []string
	attempts  int
	nextRunAt time.Time
	running   *exec.Cmd
	startedAt time.Time
	done      chan error // set once the process started; nil until launch
}

// scriptExecutor is the bounded FIFO of spec.md §4.10: at most
// scriptQueueCap jobs queued, at most scriptMaxConcurrent running,
// failed jobs retried with exponential backoff, long-runners killed.
// It is driven once per tick from actor.go's loop, never from its own
// goroutine, keeping script launch/reap decisions on the single actor
// thread like everything else (spec.md §5).
type scriptExecutor struct {
	s  *Sentinel
	q  []*scriptJob
}

func newScriptExecutor(s *Sentinel) *scriptExecutor {
	return &scriptExecutor{s: s}
}

// enqueueNotification queues m's notification script (if configured)
// with "<event-type> <message>" argv, called from emitFor for
// warning-level topics.
func (e *scriptExecutor) enqueueNotification(m *Instance, topic, message string) {
	if m.NotificationScript == "" {
		return
	}
	e.enqueue(m.NotificationScript, topic, message)
}

// enqueueClientReconfig queues m's client-reconfig script with the
// argv spec.md §4.10 specifies: master-name, role, state, from-ip,
// from-port, to-ip, to-port.
func (e *scriptExecutor) enqueueClientReconfig(m *Instance, role, state string, from, to Address) {
	if m.ClientReconfigScript == "" || e.s.denyScriptsReconfig {
		return
	}
	e.enqueue(m.ClientReconfigScript, m.Name, role, state, from.ResolvedIP, strconv.Itoa(from.Port), to.ResolvedIP, strconv.Itoa(to.Port))
}

func (e *scriptExecutor) enqueue(path string, args ...string) {
	if len(e.q) >= scriptQueueCap {
		e.s.logger.Printf("[scripts] queue full (%d), dropping %s", scriptQueueCap, path)
		return
	}
	e.q = append(e.q, &scriptJob{argv: append([]string{path}, args...)})
}

// tick launches eligible pending jobs (respecting the concurrency
// cap), reaps finished ones, retries failures, and kills runaways.
// Called once per actor tick.
func (e *scriptExecutor) tick(now time.Time) {
	running := 0
	kept := e.q[:0]
	for _, j := range e.q {
		if j.running != nil {
			running++
			if now.Sub(j.startedAt) > scriptKillAfter {
				j.running.Process.Kill()
			}
			select {
			case err := <-j.done:
				j.running = nil
				running--
				if err != nil {
					j.attempts++
					if j.attempts >= scriptMaxRetries {
						e.s.logger.Printf("[scripts] %v failed permanently after %d attempts: %v", j.argv, j.attempts, err)
						continue
					}
					j.nextRunAt = now.Add(scriptRetryBaseDelay * time.Duration(1<<uint(j.attempts-1)))
					kept = append(kept, j)
					continue
				}
				continue // succeeded, drop
			default:
				kept = append(kept, j)
				continue
			}
		}
		kept = append(kept, j)
	}
	e.q = kept

	for _, j := range e.q {
		if running >= scriptMaxConcurrent {
			break
		}
		if j.running != nil || now.Before(j.nextRunAt) {
			continue
		}
		if err := e.launch(j, now); err != nil {
			e.s.logger.Printf("[scripts] failed to start %v: %v", j.argv, err)
			j.attempts++
			j.nextRunAt = now.Add(scriptRetryBaseDelay * time.Duration(1<<uint(j.attempts)))
			continue
		}
		running++
	}
}

func (e *scriptExecutor) launch(j *scriptJob, now time.Time) error {
	cmd := exec.Command(j.argv[0], j.argv[1:]...)
	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return err
	}
	j.running = cmd
	j.startedAt = now
	j.done = done
	go func() {
		done <- cmd.Wait()
	}()
	return nil
}

// pending reports the queue depth for SENTINEL PENDING-SCRIPTS.
func (e *scriptExecutor) pending() int { return len(e.q) }
