// Package vmconn manages resilient command-execution sessions against
// remote hosts whose availability is uncertain: they may reboot, hang, or
// drop off the network mid-session.
//
// The package layers four capabilities on top of an SSH transport:
//
//   - streaming command execution with a hard wall-clock deadline and a
//     per-line output callback ([Connection.Execute])
//   - multi-tier liveness evaluation that fuses network-level probes with
//     authenticated shell probes into a confidence-scored verdict
//     ([Connection.IsAlive], package probe)
//   - retrying reconnection and reboot recovery ([Connection.Reconnect],
//     [Connection.WaitUntilReady])
//   - reboot detection via a comparable boot identity token
//     ([Connection.RecordBootID], [Connection.CheckReboot])
//
// A Connection owns at most one session and is not safe for concurrent use;
// callers that share one across goroutines must serialize access.
//
// Example:
//
//	conn := vmconn.New(vmconn.Config{Host: "192.168.1.10", User: "tester", KeyPath: "~/.ssh/id_ed25519"})
//	if err := conn.Connect(ctx); err != nil {
//	    return err
//	}
//	defer conn.Close()
//	exitCode, err := conn.Execute(ctx, "uptime",
//	    vmconn.WithTimeout(30*time.Second),
//	    vmconn.WithOutputFunc(func(line string) { fmt.Println(line) }))
package vmconn
