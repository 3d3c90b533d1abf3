// Package workflow is the durable execution substrate. Workflows are
// handler functions built from checkpointed steps, signals, messages and
// sleeps; an interrupted execution resumes by replaying completed steps
// from their checkpoints.
//
// # Defining a Workflow
//
//	var Transfer = workflow.NewWorkflow("transfer",
//	    func(wf *workflow.Workflow, in TransferInput) (string, error) {
//	        txn, err := workflow.Call[UpdateInput, int64](wf, "update_account", in.Debit())
//	        if err != nil {
//	            return "", err
//	        }
//	        if err := wf.Publish("txn_id", txn); err != nil {
//	            return "", err
//	        }
//	        return "ok", nil
//	    },
//	)
//
// Every step is checkpointed under "name#n", where n counts the calls of
// that name within the execution, so a step that runs twice (a forward
// update and its reversal) keeps two checkpoints.
//
// # Signals and Messages
//
// An execution publishes at most one value per topic with
// [Workflow.Publish]; callers read it with event.Bus.AwaitSignal. Callers
// send values to an execution with event.Bus.Send and the execution reads
// them with [Workflow.Receive], which returns nil on timeout.
//
// # State Machine
//
// An [Execution] moves through these states:
//
//	running → committed
//	running → compensated
//	running → failed
//
// A cancelled execution (process crash, Shutdown) stays running and is
// picked up by [Runner.Resume] or [Runner.ResumeAll].
//
// # Key Types
//
//   - [Definition]: typed workflow descriptor with Name and Handler
//   - [Execution]: a single durable execution record
//   - [Runner]: starts, resumes and retries executions
//   - [Handle] and [Result]: the caller's view of an execution
//   - [Steps]: explicit registry of named steps invoked with [Call]
package workflow
