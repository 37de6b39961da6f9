// Package process runs process bodies: sequential model code that waits for
// simulated time or for a resource, suspends, and later continues with its
// locals intact.
//
// Bodies are Functions of a small stack-machine instruction set, built with
// an Assembler. The Runtime interprets them one instruction at a time, so a
// wait issued at any call depth captures the whole chain of Frames into the
// ProcessHandle and schedules a resumption event on the Simulator. When that
// event is dispatched the chain is restored and interpretation continues at
// the instruction after the wait.
//
// Waits are natives (host builtins) such as hold, acquire or wait. A
// process parked on a Resource or Condition is Passive and has no calendar
// entry until it is woken; every Suspended process has exactly one.
package process
