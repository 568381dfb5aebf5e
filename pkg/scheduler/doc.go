/*
Package scheduler runs reconciliation cycles on a fixed interval.

Start runs the first cycle immediately and then one every interval. The job
runs in singleton mode, so a cycle that outlasts the interval causes the
next tick to be skipped rather than run concurrently. Start and Stop are
idempotent.

	sched := scheduler.New(rec, 30*time.Second)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

TriggerNow runs a cycle out of band, as the manual collection endpoint does.
*/
package scheduler
