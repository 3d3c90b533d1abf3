package redis

// Redis key naming conventions for escrow data.
// All keys are prefixed with "escrow:" to avoid collisions.

const keyPrefix = "escrow:"

// ── Execution keys ──

// execKey returns the key for an execution entity: escrow:exec:{id}
func execKey(id string) string { return keyPrefix + "exec:" + id }

// execIDsKey is the Set tracking all execution IDs for enumeration.
const execIDsKey = keyPrefix + "exec_ids"

// childrenKey returns the Set key tracking the children of an execution.
func childrenKey(parentID string) string { return keyPrefix + "children:" + parentID }

// ── Checkpoint keys ──

// checkpointKey returns the Hash key holding the checkpoints of an
// execution, one field per step key: escrow:checkpoint:{execID}
func checkpointKey(execID string) string { return keyPrefix + "checkpoint:" + execID }

// checkpointOrderKey returns the List key recording checkpoint keys in
// creation order.
func checkpointOrderKey(execID string) string { return keyPrefix + "checkpoint_order:" + execID }

// ── Event keys ──

// signalKey returns the key for a signal: escrow:signal:{execID}:{topic}
func signalKey(execID, topic string) string {
	return keyPrefix + "signal:" + execID + ":" + topic
}

// messageKey returns the key for a message entity: escrow:msg:{id}
func messageKey(id string) string { return keyPrefix + "msg:" + id }

// messageStreamKey returns the Stream key for an execution topic:
// escrow:msgs:{execID}:{topic}
func messageStreamKey(execID, topic string) string {
	return keyPrefix + "msgs:" + execID + ":" + topic
}

// ── DLQ keys ──

// dlqKey returns the key for a dead letter entity: escrow:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all dead letter IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// dlqExecKey maps an execution ID to its dead letter ID.
func dlqExecKey(execID string) string { return keyPrefix + "dlq_exec:" + execID }
