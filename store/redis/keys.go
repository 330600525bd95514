package redis

// Redis key naming conventions for beacon data.
// All keys are prefixed with "beacon:" to avoid collisions.

const keyPrefix = "beacon:"

// eventsKey returns the List key holding a job's event log: beacon:events:{job}
func eventsKey(jobID string) string { return keyPrefix + "events:" + jobID }

// jobKey returns the Hash key for a job record: beacon:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// activeKey returns the key holding a scope's active job ID: beacon:active:{scope}
func activeKey(scope string) string { return keyPrefix + "active:" + scope }
