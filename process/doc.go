/*
Package process defines the process, process step and checklist types
and primitives used by the onboarding engine.

# Processes

A process is a durable, multi-step job owned by a business entity: a
company application's checklist, a partner registration, a
self-description request, a technical user's creation or the teardown
of an identity provider. A process carries an opaque version token that
changes every time the process or any of its steps is written. Writers
present the version they last saw and are rejected when it has moved on.
This is the only locking the engine does between concurrent callers.

A process also carries a lock expiry date. The dispatcher sets it when
it claims a process for execution so that another dispatcher does not
run the same steps at the same time. An unset or elapsed lock expiry
means the process is free to be claimed.

# Steps

A process step is one unit of work. Steps are created TODO and finish
as DONE, SKIPPED or FAILED. Automatic steps are run by the dispatcher;
manual steps are completed by an operator or by an external system
calling back. A process is finished once none of its steps are TODO or
IN_PROGRESS.

Step types form a graph that is declared in the step type registry. A
failing step names a retrigger step. That retrigger step is manual: an
operator runs it to move the failed work back into a runnable state,
and it then schedules the step it resumes. Steps that await an external
response are only ever scheduled once per process at a time.

# Checklists

A company application has a checklist: a small set of entries, one per
checklist entry type. Each entry moves through its own state machine
(TO_DO, IN_PROGRESS, DONE, FAILED, SKIPPED) in lock-step with the
process steps that do the corresponding work. A failed entry can only
go back to TO_DO by way of a retrigger step.

# Errors

Operations report failures by wrapping one of the sentinel errors in
this package (ErrNotFound, ErrConflict, ErrArgument, ErrForbidden and
ErrUnexpected). Transports map them to their own status codes.
*/
package process
