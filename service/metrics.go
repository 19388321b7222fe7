// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

package service

import (
	"sync"
	"time"

	"github.com/inkforge/pipeline/internal/metrics"
	"github.com/inkforge/pipeline/types"
)

// jobObserver adapts internal/metrics.Collector to jobs.Observer, tracking
// per-kind queue depth (jobs created but not yet finished) since Collector
// only ever sees point-in-time deltas.
type jobObserver struct {
	collector *metrics.Collector

	mu    sync.Mutex
	depth map[types.ArtifactKind]int
}

func newJobObserver(collector *metrics.Collector) *jobObserver {
	return &jobObserver{
		collector: collector,
		depth:     make(map[types.ArtifactKind]int),
	}
}

func (o *jobObserver) JobCreated(kind types.ArtifactKind) {
	o.collector.RecordJobSubmitted(string(kind))

	o.mu.Lock()
	o.depth[kind]++
	n := o.depth[kind]
	o.mu.Unlock()
	o.collector.SetQueueDepth(string(kind), n)
}

func (o *jobObserver) JobFinished(kind types.ArtifactKind, state types.JobState, duration time.Duration) {
	o.collector.RecordJobTerminal(string(kind), string(state), duration)

	o.mu.Lock()
	if o.depth[kind] > 0 {
		o.depth[kind]--
	}
	n := o.depth[kind]
	o.mu.Unlock()
	o.collector.SetQueueDepth(string(kind), n)
}
